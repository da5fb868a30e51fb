package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/torquesign/models"
)

type memoryRepository struct {
	mu          sync.Mutex
	workflows   map[string]Workflow
	delegations []Delegation
	saves       int
	fail        error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{workflows: map[string]Workflow{}}
}

func (m *memoryRepository) SaveWorkflow(_ context.Context, wf Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.fail != nil {
		return m.fail
	}
	m.workflows[wf.ID] = wf
	return nil
}

func (m *memoryRepository) SaveDelegation(_ context.Context, d Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.delegations = append(m.delegations, d)
	return nil
}

func (m *memoryRepository) LoadWorkflows(context.Context) ([]Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (m *memoryRepository) LoadDelegations(context.Context) ([]Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delegation(nil), m.delegations...), nil
}

func TestEnginePersistsAndRestores(t *testing.T) {
	repo := newMemoryRepository()
	f := newFixture(t, WithRepository(repo))
	ctx := context.Background()

	f.create(t, "wf-1", models.SafetyCritical, 0)
	_, err := f.sign("wf-1", "op-1", RoleOperator)
	require.NoError(t, err)
	_, err = f.engine.DelegateApprovalAuthority(ctx, DelegationRequest{
		DelegatedBy: "sup-1", DelegatedTo: "op-2", Role: RoleSupervisor,
		ValidFrom: f.clock.Now(), ValidTo: f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.saves)

	restored := NewEngine(f.signer, nil, WithRepository(repo), WithClock(f.clock.Now))
	require.NoError(t, restored.Restore(ctx))

	wf, err := restored.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, wf.CurrentStepIndex)
	assert.Len(t, wf.Signatures, 1)

	// the restored machine continues from PENDING
	wf, err = restored.AddSignature(ctx, SignRequest{
		WorkflowID: "wf-1", SignerID: "op-2", Role: RoleOperator, Type: "APPROVAL",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wf.Status)
}

func TestRepositoryFailureIsNotFatal(t *testing.T) {
	repo := newMemoryRepository()
	repo.fail = errors.New("connection refused")
	f := newFixture(t, WithRepository(repo))

	f.create(t, "wf-1", models.SafetyNormal, 0)
	wf, err := f.sign("wf-1", "op-1", RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wf.Status)
	assert.Equal(t, 2, repo.saves)
}

func TestRestoreWithoutRepository(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.engine.Restore(context.Background()))
}

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresRepositorySaveWorkflow(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	wf := Workflow{
		ID: "wf-1", Type: TypeCompletion, Status: StatusPending, Initiator: "op-1",
		Report:    models.ReportData{SessionID: "s1"},
		CreatedAt: created, UpdatedAt: created,
	}

	mock.ExpectExec("INSERT INTO approval_workflows .* ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("wf-1", "COMPLETION", "PENDING", "s1", "op-1", sqlmock.AnyArg(), created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveWorkflow(context.Background(), wf))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositorySaveWorkflowError(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec("INSERT INTO approval_workflows").WillReturnError(errors.New("disk full"))

	err := repo.SaveWorkflow(context.Background(), Workflow{ID: "wf-1"})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryLoadWorkflows(t *testing.T) {
	repo, mock := newMockRepository(t)
	snapshot, err := json.Marshal(Workflow{
		ID: "wf-1", Type: TypeReworkApproval, Status: StatusRejected, RejectionReason: "stripped thread",
		Requirements: []Requirement{{Step: 1, Role: RoleOperator, Required: true}},
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT snapshot FROM approval_workflows").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(snapshot))

	wfs, err := repo.LoadWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, StatusRejected, wfs[0].Status)
	assert.Equal(t, "stripped thread", wfs[0].RejectionReason)
	assert.Equal(t, RoleOperator, wfs[0].Requirements[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryLoadCorruptSnapshot(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT snapshot FROM approval_workflows").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow([]byte("{not json")))

	_, err := repo.LoadWorkflows(context.Background())
	assert.ErrorContains(t, err, "decode workflow snapshot")
}

func TestPostgresRepositoryDelegations(t *testing.T) {
	repo, mock := newMockRepository(t)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := Delegation{
		ID: "d-1", DelegatedBy: "sup-1", DelegatedTo: "op-2", Role: RoleSupervisor,
		ValidFrom: from, ValidTo: from.Add(8 * time.Hour),
	}

	mock.ExpectExec("INSERT INTO delegations").
		WithArgs("d-1", "sup-1", "op-2", "supervisor", d.ValidFrom, d.ValidTo, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveDelegation(context.Background(), d))

	snapshot, err := json.Marshal(d)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT snapshot FROM delegations").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(snapshot))

	loaded, err := repo.LoadDelegations(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].ActiveAt(from.Add(time.Hour)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
