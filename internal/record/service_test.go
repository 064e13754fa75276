package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"presence/internal/audit"
	"presence/internal/roster"
	"presence/internal/session"
	"presence/internal/token"
)

// ── Fakes ──

type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*Record // keyed session|student
	nextID  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*Record)}
}

func key(sessionID, studentID string) string { return sessionID + "|" + studentID }

func (r *fakeRepo) Get(_ context.Context, sessionID, studentID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key(sessionID, studentID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) InsertIfAbsent(_ context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(sessionID, studentID)
	if existing, ok := r.records[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	r.nextID++
	rec := &Record{
		ID:         fmt.Sprintf("rec-%d", r.nextID),
		SessionID:  sessionID,
		StudentID:  studentID,
		Status:     status,
		AttendedAt: attendedAt,
		CreatedAt:  attendedAt,
		UpdatedAt:  attendedAt,
	}
	r.records[k] = rec
	cp := *rec
	return &cp, true, nil
}

func (r *fakeRepo) Upsert(_ context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(sessionID, studentID)
	if existing, ok := r.records[k]; ok {
		existing.Status = status
		existing.AttendedAt = attendedAt
		existing.UpdatedAt = attendedAt
		cp := *existing
		return &cp, nil
	}
	r.nextID++
	rec := &Record{
		ID:         fmt.Sprintf("rec-%d", r.nextID),
		SessionID:  sessionID,
		StudentID:  studentID,
		Status:     status,
		AttendedAt: attendedAt,
		CreatedAt:  attendedAt,
		UpdatedAt:  attendedAt,
	}
	r.records[k] = rec
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeSessionStore struct {
	sessions map[string]*session.Session
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (*session.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeSessionStore) FindLatestBySubjectDate(_ context.Context, subjectID string, date time.Time) (*session.Session, error) {
	var latest *session.Session
	for _, s := range f.sessions {
		if s.SubjectID == subjectID && s.Date.Equal(date) {
			if latest == nil || s.StartTime.After(latest.StartTime) {
				latest = s
			}
		}
	}
	return latest, nil
}

type fakeOracle struct {
	enrolled map[string]bool
	assigned map[string]bool
}

func (o *fakeOracle) IsEnrolled(_ context.Context, studentID, subjectID string) (bool, error) {
	return o.enrolled[studentID+"|"+subjectID], nil
}

func (o *fakeOracle) IsAssigned(_ context.Context, facultyID, subjectID string) (bool, error) {
	return o.assigned[facultyID+"|"+subjectID], nil
}

func (o *fakeOracle) SubjectCode(_ context.Context, _ string) (string, error) { return "", nil }

// ── Setup ──

type recorderFixture struct {
	svc    *Service
	repo   *fakeRepo
	issuer *token.Issuer
	ledger *token.MemoryLedger
}

func setupRecorder(t *testing.T) recorderFixture {
	t.Helper()
	repo := newFakeRepo()
	ledger := token.NewMemoryLedger()
	issuer := token.NewIssuer("test-key", "presence-core", 10*time.Second)
	sessions := &fakeSessionStore{sessions: map[string]*session.Session{
		"session-1": {
			ID:        "session-1",
			SubjectID: "subject-x",
			FacultyID: "faculty-a",
			Date:      time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
			StartTime: time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC),
			Status:    session.StatusOpen,
		},
	}}
	oracle := &fakeOracle{
		enrolled: map[string]bool{"student-1|subject-x": true},
		assigned: map[string]bool{"faculty-a|subject-x": true},
	}
	svc := NewService(repo, sessions, issuer, ledger, oracle, audit.NewInMemory(64))
	return recorderFixture{svc: svc, repo: repo, issuer: issuer, ledger: ledger}
}

// issue mimics the issuance path: mint and register as unused.
func (f recorderFixture) issue(t *testing.T, studentID, sessionID string) string {
	t.Helper()
	raw, claims, err := f.issuer.Mint(studentID, sessionID)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := f.ledger.Register(context.Background(), claims.ID, 10*time.Second); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return raw
}

// ── Redemption ──

func TestRedeemMarksPresent(t *testing.T) {
	f := setupRecorder(t)
	raw := f.issue(t, "student-1", "session-1")

	res, err := f.svc.Redeem(context.Background(), "student-1", raw, true)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.AlreadyMarked {
		t.Fatal("first redemption must not report already marked")
	}
	if res.Record.Status != StatusPresent {
		t.Fatalf("status = %s, want present", res.Record.Status)
	}
	if res.Record.SessionID != "session-1" || res.Record.StudentID != "student-1" {
		t.Fatalf("record = %+v, bound wrong", res.Record)
	}
}

func TestRedeemSameTokenTwice(t *testing.T) {
	f := setupRecorder(t)
	raw := f.issue(t, "student-1", "session-1")

	if _, err := f.svc.Redeem(context.Background(), "student-1", raw, true); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	_, err := f.svc.Redeem(context.Background(), "student-1", raw, true)
	if !errors.Is(err, token.ErrUsed) {
		t.Fatalf("second Redeem err = %v, want ErrUsed", err)
	}

	rec, _ := f.repo.Get(context.Background(), "session-1", "student-1")
	if rec == nil || rec.Status != StatusPresent {
		t.Fatalf("record = %+v, want unchanged present", rec)
	}
}

func TestRedeemConcurrentExactlyOneWins(t *testing.T) {
	f := setupRecorder(t)
	raw := f.issue(t, "student-1", "session-1")

	const attempts = 16
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Redeem(context.Background(), "student-1", raw, true)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, token.ErrUsed):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d successful redemptions, want exactly 1", wins)
	}
	if len(f.repo.records) != 1 {
		t.Fatalf("got %d records, want 1", len(f.repo.records))
	}
}

func TestRedeemStudentMismatch(t *testing.T) {
	f := setupRecorder(t)
	raw := f.issue(t, "student-1", "session-1")

	_, err := f.svc.Redeem(context.Background(), "student-2", raw, true)
	if !errors.Is(err, token.ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}

	// The mismatch rejection must not burn the token or write a record.
	if len(f.repo.records) != 0 {
		t.Fatal("mismatch must not create a record")
	}
	if _, err := f.svc.Redeem(context.Background(), "student-1", raw, true); err != nil {
		t.Fatalf("rightful owner must still redeem: %v", err)
	}
}

func TestRedeemPresenceFailureBurnsToken(t *testing.T) {
	f := setupRecorder(t)
	raw := f.issue(t, "student-1", "session-1")

	_, err := f.svc.Redeem(context.Background(), "student-1", raw, false)
	if !errors.Is(err, ErrPresenceFailed) {
		t.Fatalf("err = %v, want ErrPresenceFailed", err)
	}
	if len(f.repo.records) != 0 {
		t.Fatal("failed presence must not create a record")
	}

	// The token was consumed before the presence check; retrying with a
	// true assertion cannot work.
	_, err = f.svc.Redeem(context.Background(), "student-1", raw, true)
	if !errors.Is(err, token.ErrUsed) {
		t.Fatalf("retry err = %v, want ErrUsed", err)
	}
}

func TestRedeemExpiredLedgerEntry(t *testing.T) {
	f := setupRecorder(t)
	raw, claims, err := f.issuer.Mint("student-1", "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	// Registered with a negative TTL: present but past its lifetime.
	if err := f.ledger.Register(context.Background(), claims.ID, -time.Second); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = f.svc.Redeem(context.Background(), "student-1", raw, true)
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestRedeemNeverRegisteredToken(t *testing.T) {
	f := setupRecorder(t)
	raw, _, err := f.issuer.Mint("student-1", "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := f.svc.Redeem(context.Background(), "student-1", raw, true); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestRedeemGarbageToken(t *testing.T) {
	f := setupRecorder(t)
	if _, err := f.svc.Redeem(context.Background(), "student-1", "garbage", true); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestRedeemDoesNotOverwriteExistingMark(t *testing.T) {
	f := setupRecorder(t)

	// Faculty marked the student late before the redemption lands.
	if _, err := f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-1", StatusLate); err != nil {
		t.Fatalf("ManualMark: %v", err)
	}

	raw := f.issue(t, "student-1", "session-1")
	res, err := f.svc.Redeem(context.Background(), "student-1", raw, true)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !res.AlreadyMarked {
		t.Fatal("expected already-marked result")
	}
	if res.Record.Status != StatusLate {
		t.Fatalf("status = %s, the first mark must stand", res.Record.Status)
	}
}

// ── Manual marking ──

func TestManualMarkUpserts(t *testing.T) {
	f := setupRecorder(t)

	rec, err := f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-1", StatusAbsent)
	if err != nil {
		t.Fatalf("ManualMark: %v", err)
	}
	if rec.Status != StatusAbsent {
		t.Fatalf("status = %s, want absent", rec.Status)
	}

	// Second mark updates in place, no duplicate row.
	rec, err = f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-1", StatusPresent)
	if err != nil {
		t.Fatalf("second ManualMark: %v", err)
	}
	if rec.Status != StatusPresent {
		t.Fatalf("status = %s, want present", rec.Status)
	}
	if len(f.repo.records) != 1 {
		t.Fatalf("got %d records, want 1", len(f.repo.records))
	}
}

func TestManualMarkValidation(t *testing.T) {
	f := setupRecorder(t)

	if _, err := f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-1", "sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status err = %v, want ErrInvalidStatus", err)
	}
	if _, err := f.svc.ManualMark(context.Background(), "faculty-a", "missing", "student-1", StatusPresent); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.ManualMark(context.Background(), "faculty-b", "session-1", "student-1", StatusPresent); !errors.Is(err, roster.ErrNotAssigned) {
		t.Errorf("unassigned faculty err = %v, want ErrNotAssigned", err)
	}
	if _, err := f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-9", StatusPresent); !errors.Is(err, roster.ErrNotEnrolled) {
		t.Errorf("unenrolled student err = %v, want ErrNotEnrolled", err)
	}
}

// ── Override ──

func TestOverrideResolvesLatestSession(t *testing.T) {
	f := setupRecorder(t)
	date := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)

	rec, err := f.svc.Override(context.Background(), "faculty-a", false, "student-1", "subject-x", date, StatusLate)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if rec.SessionID != "session-1" || rec.Status != StatusLate {
		t.Fatalf("record = %+v, want late in session-1", rec)
	}
}

func TestOverrideAdminBypassesAssignment(t *testing.T) {
	f := setupRecorder(t)
	date := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)

	if _, err := f.svc.Override(context.Background(), "someone", false, "student-1", "subject-x", date, StatusAbsent); !errors.Is(err, roster.ErrNotAssigned) {
		t.Fatalf("non-admin err = %v, want ErrNotAssigned", err)
	}
	if _, err := f.svc.Override(context.Background(), "someone", true, "student-1", "subject-x", date, StatusAbsent); err != nil {
		t.Fatalf("admin Override: %v", err)
	}
}

func TestOverrideUnknownSessionDate(t *testing.T) {
	f := setupRecorder(t)
	date := time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC)
	if _, err := f.svc.Override(context.Background(), "faculty-a", false, "student-1", "subject-x", date, StatusLate); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOverrideClosedSessionStillAllowed(t *testing.T) {
	// Session state is irrelevant to override permission, only existence.
	f := setupRecorder(t)
	closed := time.Date(2025, 5, 12, 11, 0, 0, 0, time.UTC)
	sessions := &fakeSessionStore{sessions: map[string]*session.Session{
		"session-2": {
			ID:        "session-2",
			SubjectID: "subject-x",
			FacultyID: "faculty-a",
			Date:      time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
			StartTime: time.Date(2025, 5, 12, 10, 0, 0, 0, time.UTC),
			EndTime:   &closed,
			Status:    session.StatusClosed,
		},
	}}
	f.svc.sessions = sessions

	date := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)
	rec, err := f.svc.Override(context.Background(), "faculty-a", false, "student-1", "subject-x", date, StatusPresent)
	if err != nil {
		t.Fatalf("Override on closed session: %v", err)
	}
	if rec.SessionID != "session-2" {
		t.Fatalf("record session = %s, want session-2", rec.SessionID)
	}
}

// ── Roll listing ──

func TestListBySessionAuthorization(t *testing.T) {
	f := setupRecorder(t)
	if _, err := f.svc.ManualMark(context.Background(), "faculty-a", "session-1", "student-1", StatusPresent); err != nil {
		t.Fatalf("ManualMark: %v", err)
	}

	recs, err := f.svc.ListBySession(context.Background(), "faculty-a", "session-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}

	if _, err := f.svc.ListBySession(context.Background(), "faculty-b", "session-1"); !errors.Is(err, roster.ErrNotAssigned) {
		t.Fatalf("foreign faculty err = %v, want ErrNotAssigned", err)
	}
}
