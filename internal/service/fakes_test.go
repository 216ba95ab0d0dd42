package service_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/repository"
)

// memDB is an in-memory stand-in for Postgres. Transactions are serialized
// and rolled back by restoring a snapshot.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	seq      int
	clock    time.Time
	users    map[string]*domain.User
	projects map[string]*domain.Project
	tasks    map[string]*domain.Task
	activity []*domain.ActivityLogEntry

	// failLookup makes GetByID fail for the listed user ids.
	failLookup map[string]bool
	// failActivity makes appending activity entries fail.
	failActivity bool
	// beforeUpdate runs before the compare-and-swap of a task update.
	beforeUpdate func(task *domain.Task)
	// beforeCountRole runs before owners are counted under lock.
	beforeCountRole func()
}

func newMemDB() *memDB {
	return &memDB{
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users:      map[string]*domain.User{},
		projects:   map[string]*domain.Project{},
		tasks:      map[string]*domain.Task{},
		failLookup: map[string]bool{},
	}
}

func (db *memDB) nextID() string {
	db.seq++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", db.seq)
}

func (db *memDB) now() time.Time {
	db.clock = db.clock.Add(time.Millisecond)
	return db.clock
}

type snapshot struct {
	users    map[string]domain.User
	projects map[string]domain.Project
	tasks    map[string]domain.Task
	activity []*domain.ActivityLogEntry
}

func (db *memDB) snapshot() snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := snapshot{
		users:    make(map[string]domain.User, len(db.users)),
		projects: make(map[string]domain.Project, len(db.projects)),
		tasks:    make(map[string]domain.Task, len(db.tasks)),
		activity: slices.Clone(db.activity),
	}
	for id, u := range db.users {
		s.users[id] = *u
	}
	for id, p := range db.projects {
		cp := *p
		cp.MemberIDs = slices.Clone(p.MemberIDs)
		s.projects[id] = cp
	}
	for id, t := range db.tasks {
		s.tasks[id] = *t
	}
	return s
}

func (db *memDB) restore(s snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users = make(map[string]*domain.User, len(s.users))
	for id, u := range s.users {
		db.users[id] = &u
	}
	db.projects = make(map[string]*domain.Project, len(s.projects))
	for id, p := range s.projects {
		db.projects[id] = &p
	}
	db.tasks = make(map[string]*domain.Task, len(s.tasks))
	for id, t := range s.tasks {
		db.tasks[id] = &t
	}
	db.activity = s.activity
}

// WithinTx implements service.Transactor.
func (db *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	before := db.snapshot()
	if err := fn(ctx, nil); err != nil {
		db.restore(before)
		return err
	}
	return nil
}

func (db *memDB) addUser(name, email string, role domain.UserRole) *domain.User {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	u := &domain.User{
		ID:        db.nextID(),
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	db.users[u.ID] = u
	return u
}

func (db *memDB) addProject(name, ownerID string, memberIDs ...string) *domain.Project {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	p := &domain.Project{
		ID:        db.nextID(),
		Name:      name,
		OwnerID:   ownerID,
		MemberIDs: append([]string{}, memberIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	db.projects[p.ID] = p
	return p
}

func (db *memDB) task(id string) (domain.Task, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

func (db *memDB) entries(taskID string) []domain.ActivityLogEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.ActivityLogEntry
	for _, e := range db.activity {
		if e.TaskID == taskID {
			out = append(out, *e)
		}
	}
	return out
}

func (db *memDB) setStatus(taskID string, status domain.TaskStatus) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tasks[taskID].Status = status
}

// taskStore implements service.TaskStore.
type taskStore struct{ db *memDB }

func (s taskStore) GetByID(_ context.Context, taskID string) (*domain.Task, error) {
	t, ok := s.db.task(taskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &t, nil
}

func (s taskStore) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, taskID string) (*domain.Task, error) {
	return s.GetByID(ctx, taskID)
}

func (s taskStore) details(t *domain.Task) *domain.TaskDetails {
	d := &domain.TaskDetails{Task: t}
	if p, ok := s.db.projects[t.ProjectID]; ok {
		d.ProjectName = p.Name
	}
	if t.AssigneeID != nil {
		if u, ok := s.db.users[*t.AssigneeID]; ok {
			d.AssigneeName = &u.Name
			d.AssigneeEmail = &u.Email
		}
	}
	if u, ok := s.db.users[t.CreatedBy]; ok {
		d.CreatorName = u.Name
		d.CreatorEmail = u.Email
	}
	return d
}

func (s taskStore) GetDetails(_ context.Context, taskID string) (*domain.TaskDetails, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return s.details(&cp), nil
}

func (s taskStore) List(_ context.Context, f repository.TaskListFilters) ([]*domain.TaskDetails, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var matched []*domain.Task
	for _, t := range s.db.tasks {
		if t.ProjectID != f.ProjectID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
			continue
		}
		if f.Unassigned && t.AssigneeID != nil {
			continue
		}
		if !f.Unassigned && f.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *f.AssigneeID) {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	out := make([]*domain.TaskDetails, 0)
	for i := f.Offset; i < len(matched) && i < f.Offset+f.Limit; i++ {
		out = append(out, s.details(matched[i]))
	}
	return out, len(matched), nil
}

func (s taskStore) Create(_ context.Context, _ pgx.Tx, task *domain.Task) (*domain.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.projects[task.ProjectID]; !ok {
		return nil, errors.New("foreign key violation: project")
	}
	task.ID = s.db.nextID()
	task.CreatedAt = s.db.now()
	task.UpdatedAt = task.CreatedAt
	cp := *task
	s.db.tasks[task.ID] = &cp
	return task, nil
}

func (s taskStore) Update(_ context.Context, _ pgx.Tx, task *domain.Task, expected domain.TaskStatus) error {
	if s.db.beforeUpdate != nil {
		s.db.beforeUpdate(task)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored, ok := s.db.tasks[task.ID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("%w: task %s is no longer %s", domain.ErrConcurrentUpdate, task.ID, expected)
	}
	task.UpdatedAt = s.db.now()
	cp := *task
	s.db.tasks[task.ID] = &cp
	return nil
}

func (s taskStore) Delete(_ context.Context, _ pgx.Tx, taskID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.tasks[taskID]; !ok {
		return domain.ErrTaskNotFound
	}
	for _, e := range s.db.activity {
		if e.TaskID == taskID {
			return errors.New("foreign key violation: activity_logs")
		}
	}
	delete(s.db.tasks, taskID)
	return nil
}

func (s taskStore) GetProjectStats(_ context.Context, projectID string) (*repository.ProjectStatsResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r := &repository.ProjectStatsResult{
		TasksByStatus:   map[domain.TaskStatus]int{},
		TasksByPriority: map[domain.TaskPriority]int{},
	}
	for _, st := range domain.AllTaskStatuses {
		r.TasksByStatus[st] = 0
	}
	for _, p := range domain.AllTaskPriorities {
		r.TasksByPriority[p] = 0
	}
	for _, t := range s.db.tasks {
		if t.ProjectID != projectID {
			continue
		}
		r.TotalTasks++
		r.TasksByStatus[t.Status]++
		r.TasksByPriority[t.Priority]++
		if t.AssigneeID == nil {
			r.UnassignedCount++
		}
	}
	return r, nil
}

// activityStore implements service.ActivityStore.
type activityStore struct{ db *memDB }

func (s activityStore) Create(_ context.Context, _ pgx.Tx, entry *domain.ActivityLogEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if s.db.failActivity {
		return errors.New("activity store unavailable")
	}
	entry.ID = s.db.nextID()
	entry.CreatedAt = s.db.now()
	cp := *entry
	cp.Metadata = maps.Clone(entry.Metadata)
	s.db.activity = append(s.db.activity, &cp)
	return nil
}

func (s activityStore) ListByTask(_ context.Context, taskID string, limit, offset int) ([]*domain.ActivityLogView, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var matched []*domain.ActivityLogEntry
	for _, e := range s.db.activity {
		if e.TaskID == taskID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	out := make([]*domain.ActivityLogView, 0)
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		view := &domain.ActivityLogView{Entry: matched[i]}
		if u, ok := s.db.users[matched[i].PerformedBy]; ok {
			view.PerformerName = u.Name
			view.PerformerEmail = u.Email
		}
		out = append(out, view)
	}
	return out, len(matched), nil
}

func (s activityStore) DeleteByTask(_ context.Context, _ pgx.Tx, taskID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	kept := s.db.activity[:0:0]
	var removed int64
	for _, e := range s.db.activity {
		if e.TaskID == taskID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.db.activity = kept
	return removed, nil
}

// userStore implements service.UserStore.
type userStore struct{ db *memDB }

func (s userStore) GetByID(_ context.Context, userID string) (*domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if s.db.failLookup[userID] {
		return nil, errors.New("connection reset")
	}
	u, ok := s.db.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s userStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, u := range s.db.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s userStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, u := range s.db.users {
		if u.Email == user.Email {
			return nil, domain.ErrEmailTaken
		}
	}
	user.ID = s.db.nextID()
	user.CreatedAt = s.db.now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	s.db.users[user.ID] = &cp
	return user, nil
}

func (s userStore) List(_ context.Context) ([]*domain.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]*domain.User, 0, len(s.db.users))
	for _, u := range s.db.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s userStore) GetRefs(_ context.Context, userIDs []string) ([]domain.UserRef, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	refs := make([]domain.UserRef, 0, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.db.users[id]; ok {
			refs = append(refs, domain.UserRef{ID: u.ID, Name: u.Name, Email: u.Email})
		}
	}
	return refs, nil
}

func (s userStore) UpdateRole(_ context.Context, _ pgx.Tx, userID string, role domain.UserRole) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (s userStore) CountByRoleForUpdate(_ context.Context, _ pgx.Tx, role domain.UserRole) (int, error) {
	if s.db.beforeCountRole != nil {
		s.db.beforeCountRole()
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	n := 0
	for _, u := range s.db.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

// projectStore implements service.ProjectStore.
type projectStore struct{ db *memDB }

func (s projectStore) Create(_ context.Context, _ pgx.Tx, project *domain.Project) (*domain.Project, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	project.ID = s.db.nextID()
	project.CreatedAt = s.db.now()
	project.UpdatedAt = project.CreatedAt
	project.MemberIDs = []string{}
	cp := *project
	s.db.projects[project.ID] = &cp
	return project, nil
}

func (s projectStore) GetByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	cp.MemberIDs = slices.Clone(p.MemberIDs)
	return &cp, nil
}

func (s projectStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]*domain.Project, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var matched []*domain.Project
	for _, p := range s.db.projects {
		if p.HasAccess(userID) {
			cp := *p
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	out := make([]*domain.Project, 0)
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		out = append(out, matched[i])
	}
	return out, len(matched), nil
}

func (s projectStore) AddMember(_ context.Context, _ pgx.Tx, projectID, userID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	if slices.Contains(p.MemberIDs, userID) {
		return domain.ErrAlreadyMember
	}
	p.MemberIDs = append(p.MemberIDs, userID)
	return nil
}

func (s projectStore) RemoveMember(_ context.Context, _ pgx.Tx, projectID, userID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	i := slices.Index(p.MemberIDs, userID)
	if i < 0 {
		return domain.ErrUserNotFound
	}
	p.MemberIDs = slices.Delete(p.MemberIDs, i, i+1)
	return nil
}
