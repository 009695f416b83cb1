package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/auth"
	"github.com/sakif/project-portal/internal/metrics"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeStore is an in-memory repository.CredentialStore.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]model.User
	// set to a non-nil error to simulate a storage failure
	createErr  error
	getErr     error
	upgradeErr error
	upgrades   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]model.User)}
}

func (f *fakeStore) Get(ctx context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	return &u, nil
}

func (f *fakeStore) Create(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.users[user.Username]; ok {
		return apperror.Conflict("user " + user.Username + " already exists")
	}
	f.users[user.Username] = *user
	return nil
}

func (f *fakeStore) Upgrade(ctx context.Context, username string, up repository.CredentialUpgrade) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upgrades++
	if f.upgradeErr != nil {
		return nil, f.upgradeErr
	}
	u, ok := f.users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	up.Apply(&u)
	f.users[username] = u
	return &u, nil
}

func (f *fakeStore) List(ctx context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// fakeDirs records provisioned usernames instead of touching the disk.
type fakeDirs struct {
	root        string
	provisioned []string
	err         error
}

func (f *fakeDirs) DirFor(username string) string {
	return filepath.Join(f.root, username)
}

func (f *fakeDirs) Provision(ctx context.Context, username string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.provisioned = append(f.provisioned, username)
	return f.DirFor(username), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestAuthService wires an AuthService with fakes. Cost 4 is the bcrypt
// minimum and keeps the tests fast.
func newTestAuthService(t *testing.T, store *fakeStore, dirs *fakeDirs) (*AuthService, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewAuthService(store, auth.NewPasswordService(4), dirs, m, testLogger())
	svc.now = func() time.Time { return time.Date(2025, 10, 28, 9, 0, 0, 0, time.UTC) }
	return svc, m
}

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister_NewUser(t *testing.T) {
	store := newFakeStore()
	dirs := &fakeDirs{root: "/srv/users"}
	svc, m := newTestAuthService(t, store, dirs)

	user, err := svc.Register(context.Background(), "alice", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.Username != "alice" {
		t.Errorf("Username = %q, want %q", user.Username, "alice")
	}
	if user.ID == "" {
		t.Error("ID should be assigned at registration")
	}
	if user.Directory != filepath.Join("/srv/users", "alice") {
		t.Errorf("Directory = %q", user.Directory)
	}
	if user.PasswordHash == "pw1" || user.PasswordHash == "" {
		t.Errorf("PasswordHash = %q, want a bcrypt digest", user.PasswordHash)
	}
	if len(dirs.provisioned) != 1 || dirs.provisioned[0] != "alice" {
		t.Errorf("provisioned = %v, want [alice]", dirs.provisioned)
	}
	if _, ok := store.users["alice"]; !ok {
		t.Error("user should be persisted")
	}
	if got := testutil.ToFloat64(m.Registrations.WithLabelValues(metrics.ResultSuccess)); got != 1 {
		t.Errorf("registrations{success} = %v, want 1", got)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	store := newFakeStore()
	dirs := &fakeDirs{root: "/srv/users"}
	svc, _ := newTestAuthService(t, store, dirs)

	first, err := svc.Register(context.Background(), "alice", "pw1")
	if err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, err = svc.Register(context.Background(), "alice", "other")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Register() error = %v, want ErrConflict", err)
	}
	if err.Error() != MsgUsernameTaken {
		t.Errorf("message = %q, want %q", err.Error(), MsgUsernameTaken)
	}
	if store.users["alice"].PasswordHash != first.PasswordHash {
		t.Error("existing record must not be overwritten")
	}
	if len(dirs.provisioned) != 1 {
		t.Errorf("provisioned %d times, want 1", len(dirs.provisioned))
	}
}

func TestRegister_ProvisionFailureKeepsRecord(t *testing.T) {
	store := newFakeStore()
	dirs := &fakeDirs{root: "/srv/users", err: errors.New("disk full")}
	svc, _ := newTestAuthService(t, store, dirs)

	_, err := svc.Register(context.Background(), "bob", "pw")
	if !errors.Is(err, apperror.ErrInternal) {
		t.Fatalf("Register() error = %v, want ErrInternal", err)
	}
	if err.Error() != MsgProvisionFailed {
		t.Errorf("message = %q, want %q", err.Error(), MsgProvisionFailed)
	}
	if _, ok := store.users["bob"]; !ok {
		t.Error("credential record should stay persisted after provisioning fails")
	}
}

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "pw"},
		{"empty password", "carol", ""},
		{"path traversal", "../etc", "pw"},
		{"separator", "a/b", "pw"},
		{"dot", ".", "pw"},
		{"too long password", "dave", string(make([]byte, 73))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

			_, err := svc.Register(context.Background(), tc.username, tc.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want ErrValidation", err)
			}
			if len(store.users) != 0 {
				t.Error("nothing should be stored on validation failure")
			}
		})
	}
}

func TestRegister_StoreError(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("disk is on fire")
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	_, err := svc.Register(context.Background(), "erin", "pw")
	if err == nil {
		t.Fatal("Register() should propagate storage errors")
	}
	if errors.Is(err, apperror.ErrConflict) {
		t.Error("a storage failure is not a conflict")
	}
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Register(context.Background(), "frank", fmt.Sprintf("pw%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, n-1)
	}
}

// =========================================================================
// Login TESTS
// =========================================================================

func TestLogin_Scenario(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "pw1"); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("duplicate Register() error = %v, want ErrConflict", err)
	}

	user, err := svc.Login(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("Login() ID = %q, want %q", user.ID, registered.ID)
	}

	_, err = svc.Login(ctx, "alice", "wrong")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login(wrong) error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != MsgInvalidCredentials {
		t.Errorf("message = %q, want %q", err.Error(), MsgInvalidCredentials)
	}
}

func TestLogin_UnknownUserSameMessage(t *testing.T) {
	svc, m := newTestAuthService(t, newFakeStore(), &fakeDirs{root: "/srv/users"})

	_, err := svc.Login(context.Background(), "ghost", "pw")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != MsgInvalidCredentials {
		t.Errorf("message = %q, want %q", err.Error(), MsgInvalidCredentials)
	}
	if got := testutil.ToFloat64(m.Logins.WithLabelValues(metrics.ResultRejected)); got != 1 {
		t.Errorf("logins{rejected} = %v, want 1", got)
	}
}

func TestLogin_StoreError(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("io error")
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	_, err := svc.Login(context.Background(), "alice", "pw")
	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want a storage error", err)
	}
}

func TestLogin_UpgradesLegacyDigest(t *testing.T) {
	store := newFakeStore()
	store.users["legacy"] = model.User{
		Username:     "legacy",
		PasswordHash: auth.LegacyDigest("old-pw"),
		Directory:    "/srv/users/legacy",
	}
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	user, err := svc.Login(context.Background(), "legacy", "old-pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID == "" {
		t.Error("legacy record should be assigned an ID")
	}

	stored := store.users["legacy"]
	if stored.PasswordHash == auth.LegacyDigest("old-pw") {
		t.Error("legacy digest should be replaced with bcrypt")
	}
	if err := auth.NewPasswordService(4).Verify(stored.PasswordHash, "old-pw"); err != nil {
		t.Errorf("upgraded hash does not verify: %v", err)
	}
	if stored.ID != user.ID {
		t.Errorf("stored ID = %q, returned %q", stored.ID, user.ID)
	}

	// second login must not rewrite again
	if _, err := svc.Login(context.Background(), "legacy", "old-pw"); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if store.upgrades != 1 {
		t.Errorf("upgrades = %d, want 1", store.upgrades)
	}
}

func TestLogin_ConcurrentLegacyLoginsShareOneID(t *testing.T) {
	store := newFakeStore()
	store.users["alice"] = model.User{Username: "alice", PasswordHash: auth.LegacyDigest("pw1")}
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := svc.Login(context.Background(), "alice", "pw1")
			if err != nil {
				t.Errorf("Login() error = %v", err)
				return
			}
			ids[i] = user.ID
		}(i)
	}
	wg.Wait()

	stored := store.users["alice"]
	if stored.ID == "" {
		t.Fatal("stored record should have an ID")
	}
	for i, id := range ids {
		if id != stored.ID {
			t.Errorf("login %d returned user_id %q, stored ID is %q", i, id, stored.ID)
		}
	}
	if err := auth.NewPasswordService(4).Verify(stored.PasswordHash, "pw1"); err != nil {
		t.Errorf("stored hash does not verify after concurrent upgrades: %v", err)
	}
}

func TestLogin_UpgradeFailureDoesNotFailLogin(t *testing.T) {
	store := newFakeStore()
	store.users["legacy"] = model.User{Username: "legacy", PasswordHash: auth.LegacyDigest("pw")}
	store.upgradeErr = errors.New("read-only filesystem")
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	if _, err := svc.Login(context.Background(), "legacy", "pw"); err != nil {
		t.Fatalf("Login() error = %v, want success despite failed upgrade", err)
	}
	if store.users["legacy"].PasswordHash != auth.LegacyDigest("pw") {
		t.Error("stored record should be unchanged when the upgrade fails")
	}
}

func TestLogin_WrongPasswordOnLegacyDigest(t *testing.T) {
	store := newFakeStore()
	store.users["legacy"] = model.User{Username: "legacy", PasswordHash: auth.LegacyDigest("pw")}
	svc, _ := newTestAuthService(t, store, &fakeDirs{root: "/srv/users"})

	_, err := svc.Login(context.Background(), "legacy", "nope")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
	if store.upgrades != 0 {
		t.Error("a failed login must not touch the record")
	}
}
