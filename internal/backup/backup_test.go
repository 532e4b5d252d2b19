package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

type fixture struct {
	local   *store.Local
	records *store.BackupStore
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	local := store.NewLocal(store.NewKVStore(db))
	local.Init()
	return fixture{local: local, records: store.NewBackupStore(db)}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestManagerDisabled(t *testing.T) {
	f := setup(t)
	m := NewManager(f.local, f.records, nil, discard())
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if _, err := m.Create(context.Background(), "MIM-ABC", "pw"); !errors.Is(err, ErrDisabled) {
		t.Errorf("create err = %v, want ErrDisabled", err)
	}
	if err := m.Restore(context.Background(), 1, "pw"); !errors.Is(err, ErrDisabled) {
		t.Errorf("restore err = %v, want ErrDisabled", err)
	}
}

func TestCreateAndRestore(t *testing.T) {
	f := setup(t)
	mock := newMockS3()
	m := NewManager(f.local, f.records, &S3Sink{client: mock, bucket: "b"}, discard())
	ctx := context.Background()

	if _, err := f.local.AddTask(store.NewTask{Name: "Vaisselle", Points: 10}); err != nil {
		t.Fatalf("add task: %v", err)
	}
	f.local.AddPoints(model.PartnerA, 25)
	want := f.local.Data()

	b, err := m.Create(ctx, "MIM-ABC", "correct horse")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusCompleted)
	}
	if !strings.HasPrefix(b.ObjectKey, "MIM-ABC/snapshot-") {
		t.Errorf("object key = %q, want MIM-ABC/snapshot-*", b.ObjectKey)
	}
	if b.SizeBytes == 0 {
		t.Error("expected non-zero size")
	}
	if m.Status().State != StateIdle || m.Status().LastBackup == nil {
		t.Errorf("status = %+v, want idle with last backup", m.Status())
	}
	if got := mock.objects[b.ObjectKey]; strings.Contains(string(got), "Vaisselle") {
		t.Error("uploaded archive should be encrypted")
	}

	f.local.ResetAll()
	if len(f.local.Tasks()) != 0 {
		t.Fatal("reset should clear tasks")
	}

	if err := m.Restore(ctx, b.ID, "wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("restore with wrong passphrase err = %v, want ErrBadPassphrase", err)
	}
	if err := m.Restore(ctx, b.ID, "correct horse"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := f.local.Data()
	if len(got.Tasks) != 1 || got.Tasks[0].Name != "Vaisselle" {
		t.Errorf("restored tasks = %+v", got.Tasks)
	}
	if got.Stats != want.Stats {
		t.Errorf("restored stats = %+v, want %+v", got.Stats, want.Stats)
	}
}

func TestCreateUploadFailure(t *testing.T) {
	f := setup(t)
	mock := newMockS3()
	mock.putErr = errors.New("connection reset")
	m := NewManager(f.local, f.records, &S3Sink{client: mock, bucket: "b"}, discard())

	var states []State
	m.OnStatus(func(s Status) { states = append(states, s.State) })

	if _, err := m.Create(context.Background(), "MIM-ABC", "pw"); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateError {
		t.Errorf("states = %v, want [running error]", states)
	}

	list, err := m.List("MIM-ABC", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != model.BackupStatusFailed {
		t.Fatalf("records = %+v, want one failed", list)
	}
	if list[0].ErrorMessage == "" {
		t.Error("failed record should carry the error")
	}
	if err := m.Restore(context.Background(), list[0].ID, "pw"); !errors.Is(err, ErrNotFound) {
		t.Errorf("restore failed backup err = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresPassphrase(t *testing.T) {
	f := setup(t)
	m := NewManager(f.local, f.records, &S3Sink{client: newMockS3(), bucket: "b"}, discard())
	if _, err := m.Create(context.Background(), "MIM-ABC", ""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestUnlinkedBackupsUseLocalOwner(t *testing.T) {
	f := setup(t)
	m := NewManager(f.local, f.records, &S3Sink{client: newMockS3(), bucket: "b"}, discard())

	b, err := m.Create(context.Background(), "", "pw")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(b.ObjectKey, "local/") {
		t.Errorf("object key = %q, want local/*", b.ObjectKey)
	}
	list, _ := m.List("", 10)
	if len(list) != 1 {
		t.Errorf("list = %d backups, want 1", len(list))
	}
}

func TestCleanup(t *testing.T) {
	f := setup(t)
	mock := newMockS3()
	m := NewManager(f.local, f.records, &S3Sink{client: mock, bucket: "b"}, discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, "MIM-ABC", "pw"); err != nil {
			t.Fatalf("create: %v", err)
		}
		// Distinct timestamps keep the object keys apart.
		base := m.now()
		m.now = func() time.Time { return base.Add(time.Second) }
	}
	if mock.count() != 2 {
		t.Fatalf("objects = %d, want 2", mock.count())
	}

	n, err := m.Cleanup(ctx, "MIM-ABC", 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("cleanup removed %d fresh backups", n)
	}

	m.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	n, err = m.Cleanup(ctx, "MIM-ABC", 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Errorf("cleanup removed %d, want 2", n)
	}
	if mock.count() != 0 {
		t.Errorf("objects left = %d, want 0", mock.count())
	}
}

func TestCleanupKeepsGoingOnDeleteError(t *testing.T) {
	f := setup(t)
	mock := newMockS3()
	m := NewManager(f.local, f.records, &S3Sink{client: mock, bucket: "b"}, discard())
	if _, err := m.Create(context.Background(), "MIM-ABC", "pw"); err != nil {
		t.Fatalf("create: %v", err)
	}
	mock.delErr = errors.New("denied")
	m.now = func() time.Time { return time.Now().AddDate(0, 0, 60) }

	n, err := m.Cleanup(context.Background(), "MIM-ABC", 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("cleanup removed %d records, want 1", n)
	}
}

func TestDirSink(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirSink(t.TempDir())
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}

	if err := d.Put(ctx, "MIM-ABC/a.json.enc", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := d.Get(ctx, "MIM-ABC/a.json.enc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("get = %q, want %q", got, "payload")
	}

	if err := d.Delete(ctx, "MIM-ABC/a.json.enc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.Get(ctx, "MIM-ABC/a.json.enc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := d.Delete(ctx, "MIM-ABC/a.json.enc"); err != nil {
		t.Errorf("second delete: %v", err)
	}

	if err := d.Put(ctx, "../escape", []byte("x")); err == nil {
		t.Error("expected error for key outside the root")
	}
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()

	s, err := NewSink(ctx, Config{})
	if err != nil || s != nil {
		t.Errorf("empty config = (%v, %v), want (nil, nil)", s, err)
	}

	s, err = NewSink(ctx, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("dir sink: %v", err)
	}
	if _, ok := s.(*DirSink); !ok {
		t.Errorf("sink = %T, want *DirSink", s)
	}

	s, err = NewSink(ctx, Config{
		S3:  S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "k", SecretKey: "s", Endpoint: "http://localhost:9000"},
		Dir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("s3 sink: %v", err)
	}
	if _, ok := s.(*S3Sink); !ok {
		t.Errorf("sink = %T, want *S3Sink", s)
	}
}

func TestBackupWithDirSink(t *testing.T) {
	f := setup(t)
	d, err := NewDirSink(t.TempDir())
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}
	m := NewManager(f.local, f.records, d, discard())
	if _, err := f.local.AddReward(store.NewReward{Name: "Cinéma", PointsCost: 80, Type: model.RewardCouple}); err != nil {
		t.Fatalf("add reward: %v", err)
	}

	b, err := m.Create(context.Background(), "MIM-XYZ", "pw")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.local.ResetAll()
	if err := m.Restore(context.Background(), b.ID, "pw"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rs := f.local.Rewards(); len(rs) != 1 || rs[0].Name != "Cinéma" {
		t.Errorf("restored rewards = %+v", rs)
	}
}
