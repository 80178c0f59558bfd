package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage_test: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	db.Close()
	tc.Terminate()
	os.Exit(code)
}

// unitVec builds a 768-dim basis vector. Two vectors with the same axis
// have cosine similarity 1; different axes give 0.
func unitVec(axis int) pgvector.Vector {
	v := make([]float32, 768)
	v[axis%768] = 1
	return pgvector.NewVector(v)
}

func newSession(t *testing.T) model.Session {
	t.Helper()
	s, err := testDB.CreateSession(context.Background(), uuid.New())
	require.NoError(t, err)
	return s
}

func newDecision(t *testing.T, sessionID uuid.UUID, topic, text string) model.Decision {
	t.Helper()
	d, err := testDB.CreateDecision(context.Background(), model.Decision{
		SessionID:  sessionID,
		Topic:      topic,
		Decision:   text,
		Rationale:  "discussed in session",
		Confidence: 0.8,
	})
	require.NoError(t, err)
	return d
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	got, err := testDB.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.Status)
	assert.Equal(t, s.ProjectID, got.ProjectID)
	assert.Zero(t, got.TurnCount)

	paused, err := testDB.UpdateSessionStatus(ctx, s.ID, model.SessionPaused)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, paused.Status)

	resumed, err := testDB.UpdateSessionStatus(ctx, s.ID, model.SessionActive)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, resumed.Status)

	done, err := testDB.UpdateSessionStatus(ctx, s.ID, model.SessionComplete)
	require.NoError(t, err)
	assert.Equal(t, model.SessionComplete, done.Status)

	// Terminal sessions reject every further transition.
	_, err = testDB.UpdateSessionStatus(ctx, s.ID, model.SessionActive)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = testDB.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.UpdateSessionStatus(ctx, uuid.New(), model.SessionPaused)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateSessionReadiness(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	require.NoError(t, testDB.UpdateSessionReadiness(ctx, s.ID, 73.5))

	got, err := testDB.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.InDelta(t, 73.5, got.Readiness, 1e-9)
}

func TestAppendTurnNumbering(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	first, err := testDB.AppendTurn(ctx, s.ID, model.RoleAssistant,
		"What problem does this product solve?", "business_requirements", model.ModeText, model.TurnMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TurnNumber)

	second, err := testDB.AppendTurn(ctx, s.ID, model.RoleUser,
		"Scheduling for field technicians.", "business_requirements", model.ModeVoice,
		model.TurnMetadata{TranscriptionConfidence: 0.93})
	require.NoError(t, err)
	assert.Equal(t, 2, second.TurnNumber)

	got, err := testDB.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnCount)
	assert.Equal(t, "business_requirements", got.LastTopic)
	assert.False(t, got.LastTurnAt.IsZero())

	fetched, err := testDB.GetTurn(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeVoice, fetched.Mode)
	assert.InDelta(t, 0.93, fetched.Metadata.TranscriptionConfidence, 1e-9)
}

func TestAppendTurnClosedSession(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	_, err := testDB.UpdateSessionStatus(ctx, s.ID, model.SessionComplete)
	require.NoError(t, err)

	_, err = testDB.AppendTurn(ctx, s.ID, model.RoleUser, "one more thing", "", model.ModeText, model.TurnMetadata{})
	assert.ErrorIs(t, err, storage.ErrSessionClosed)
}

func TestRecentTurnsOrder(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	for i := 0; i < 5; i++ {
		_, err := testDB.AppendTurn(ctx, s.ID, model.RoleUser,
			fmt.Sprintf("answer %d", i), "user_experience", model.ModeText, model.TurnMetadata{})
		require.NoError(t, err)
	}

	recent, err := testDB.RecentTurns(ctx, s.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 3, recent[0].TurnNumber)
	assert.Equal(t, 5, recent[2].TurnNumber)
}

func TestTopicUpsertAndScore(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	created, err := testDB.UpsertTopic(ctx, s.ID, "database_architecture")
	require.NoError(t, err)
	assert.Equal(t, model.TopicIncomplete, created.Status)

	// A second upsert returns the existing row.
	again, err := testDB.UpsertTopic(ctx, s.ID, "database_architecture")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	again.Status = model.TopicPartial
	again.Confidence = 74
	again.Completion = 80
	again.QuestionsAsked = 3
	again.QuestionsAnswered = 2
	again.CoveredSubtopics = []string{"entities", "volumes"}
	again.MissingItems = []string{"consistency requirements"}
	require.NoError(t, testDB.UpdateTopicScore(ctx, again))

	got, err := testDB.GetTopic(ctx, s.ID, "database_architecture")
	require.NoError(t, err)
	assert.Equal(t, model.TopicPartial, got.Status)
	assert.InDelta(t, 74, got.Confidence, 1e-9)
	assert.Equal(t, []string{"entities", "volumes"}, got.CoveredSubtopics)
	assert.Equal(t, []string{"consistency requirements"}, got.MissingItems)

	require.NoError(t, testDB.MarkTopicNotApplicable(ctx, s.ID, "database_architecture"))
	got, err = testDB.GetTopic(ctx, s.ID, "database_architecture")
	require.NoError(t, err)
	assert.Equal(t, model.TopicNotApplicable, got.Status)

	_, err = testDB.GetTopic(ctx, s.ID, "never_discussed")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDecisionSupersedeChain(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	first := newDecision(t, s.ID, "database_architecture", "Use MySQL")
	second := newDecision(t, s.ID, "database_architecture", "Use Postgres")
	assert.Equal(t, model.DecisionProposed, first.Status)

	updated, err := testDB.UpdateDecisionStatus(ctx, first.ID, model.DecisionSuperseded, &second.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.SupersededBy)
	assert.Equal(t, second.ID, *updated.SupersededBy)

	// Closing the loop is rejected.
	_, err = testDB.UpdateDecisionStatus(ctx, second.ID, model.DecisionSuperseded, &first.ID)
	assert.ErrorIs(t, err, storage.ErrCycleDetected)

	// Self-supersession is a trivial cycle.
	_, err = testDB.UpdateDecisionStatus(ctx, second.ID, model.DecisionSuperseded, &second.ID)
	assert.ErrorIs(t, err, storage.ErrCycleDetected)

	// Superseded requires a replacement id.
	third := newDecision(t, s.ID, "database_architecture", "Use SQLite")
	_, err = testDB.UpdateDecisionStatus(ctx, third.ID, model.DecisionSuperseded, nil)
	assert.Error(t, err)

	missing := uuid.New()
	_, err = testDB.UpdateDecisionStatus(ctx, third.ID, model.DecisionSuperseded, &missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	approved, err := testDB.UpdateDecisionStatus(ctx, second.ID, model.DecisionApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, approved.Status)
	assert.Nil(t, approved.SupersededBy)
}

func TestDecisionsByTopic(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	old := newDecision(t, s.ID, "integrations", "Poll the CRM nightly")
	replacement := newDecision(t, s.ID, "integrations", "Subscribe to CRM webhooks")
	_, err := testDB.UpdateDecisionStatus(ctx, old.ID, model.DecisionSuperseded, &replacement.ID)
	require.NoError(t, err)

	active, err := testDB.DecisionsByTopic(ctx, s.ID, "integrations", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, replacement.ID, active[0].ID)

	all, err := testDB.DecisionsByTopic(ctx, s.ID, "integrations", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDecisionStatusClosedSession(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	d := newDecision(t, s.ID, "security_model", "Sessions carry short-lived signed cookies")

	_, err := testDB.UpdateSessionStatus(ctx, s.ID, model.SessionComplete)
	require.NoError(t, err)

	// A completed session's decisions are frozen.
	_, err = testDB.UpdateDecisionStatus(ctx, d.ID, model.DecisionApproved, nil)
	assert.ErrorIs(t, err, storage.ErrSessionClosed)

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionProposed, got.Status)
}

func TestArtifactChunks(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	parentID := uuid.New()
	chunks := []model.Artifact{
		{ID: parentID, SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "dashboard", Content: "full screen spec"},
		{ID: uuid.New(), SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "dashboard", Content: "part one", ParentID: &parentID, ChunkIndex: 1},
		{ID: uuid.New(), SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "dashboard", Content: "part two", ParentID: &parentID, ChunkIndex: 2},
	}
	stored, err := testDB.CreateArtifact(ctx, chunks)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	got, err := testDB.GetArtifact(ctx, parentID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, model.ArtifactScreen, got.Kind)

	children, err := testDB.ArtifactChunks(ctx, parentID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, 1, children[0].ChunkIndex)
	assert.Equal(t, 2, children[1].ChunkIndex)

	_, err = testDB.CreateArtifact(ctx, nil)
	assert.Error(t, err)
}

func TestSearchArtifactsDedupByParent(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	parentID := uuid.New()
	chunkA := uuid.New()
	chunkB := uuid.New()
	rows := []model.Artifact{
		{ID: parentID, SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "flows"},
		{ID: chunkA, SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "flows#0", Content: "checkout flow", ParentID: &parentID, ChunkIndex: 0},
		{ID: chunkB, SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "flows#1", Content: "refund flow", ParentID: &parentID, ChunkIndex: 1},
		{ID: uuid.New(), SessionID: s.ID, Topic: "user_experience", Kind: model.ArtifactScreen, Name: "standalone", Content: "admin panel"},
	}
	stored, err := testDB.CreateArtifact(ctx, rows)
	require.NoError(t, err)
	require.Len(t, stored, 4)

	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedArtifact, chunkA, unitVec(5)))
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedArtifact, chunkB, unitVec(6)))
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedArtifact, rows[3].ID, unitVec(6)))

	// Both chunks match, but only the best one surfaces, attributed to
	// the parent artifact.
	hits, err := testDB.SearchArtifacts(ctx, unitVec(5), storage.SearchFilter{SessionID: s.ID})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, parentID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "checkout flow", hits[0].Content)
	assert.Equal(t, rows[3].ID, hits[1].ID)
}

func TestContradictionDedupAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	finding := model.Contradiction{
		SessionID:   s.ID,
		Topic:       "scale_performance",
		IndexA:      0,
		IndexB:      3,
		StatementA:  "We expect about a hundred users.",
		StatementB:  "Plan for a million users at launch.",
		Explanation: "user volume estimates differ by four orders of magnitude",
	}
	n, err := testDB.RecordContradictions(ctx, []model.Contradiction{finding})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A repeat detection pass over the same pair is a no-op.
	n, err = testDB.RecordContradictions(ctx, []model.Contradiction{finding})
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err := testDB.UnresolvedContradictions(ctx, s.ID, "scale_performance")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, finding.StatementB, open[0].StatementB)

	count, err := testDB.CountUnresolved(ctx, s.ID, "scale_performance")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, testDB.ResolveContradiction(ctx, open[0].ID))
	assert.ErrorIs(t, testDB.ResolveContradiction(ctx, open[0].ID), storage.ErrNotFound)

	// Once resolved, the same pair may be recorded again.
	n, err = testDB.RecordContradictions(ctx, []model.Contradiction{finding})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSessionActiveForFindings(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	active, err := testDB.SessionActiveForFindings(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = testDB.UpdateSessionStatus(ctx, s.ID, model.SessionAbandoned)
	require.NoError(t, err)

	active, err = testDB.SessionActiveForFindings(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = testDB.SessionActiveForFindings(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEmbedOutbox(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	turn, err := testDB.AppendTurn(ctx, s.ID, model.RoleUser, "we need offline mode", "technical_architecture", model.ModeText, model.TurnMetadata{})
	require.NoError(t, err)

	require.NoError(t, testDB.EnqueueEmbed(ctx, storage.EmbedTurn, turn.ID, s.ID, turn.Content))
	// Re-enqueueing the same target replaces the payload instead of
	// queueing a second job.
	require.NoError(t, testDB.EnqueueEmbed(ctx, storage.EmbedTurn, turn.ID, s.ID, turn.Content))

	var claimed []storage.EmbedJob
	err = testDB.ClaimEmbedJobs(ctx, 10, func(_ context.Context, jobs []storage.EmbedJob) error {
		for _, j := range jobs {
			if j.TargetID == turn.ID {
				claimed = append(claimed, j)
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, storage.EmbedTurn, claimed[0].Kind)
	assert.Equal(t, turn.Content, claimed[0].Content)

	// A successful claim consumes the job.
	err = testDB.ClaimEmbedJobs(ctx, 10, func(_ context.Context, jobs []storage.EmbedJob) error {
		for _, j := range jobs {
			require.NotEqual(t, turn.ID, j.TargetID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSetEmbeddingOnlyWhileEmpty(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	d := newDecision(t, s.ID, "technical_architecture", "Build the sync engine on CRDTs")

	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, d.ID, unitVec(1)))
	// A second write against stale content does not overwrite.
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, d.ID, unitVec(2)))

	hits, err := testDB.SearchDecisions(ctx, unitVec(1), storage.SearchFilter{SessionID: s.ID, Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, d.ID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestIndexOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	d := newDecision(t, s.ID, "integrations", "Use the billing provider's hosted checkout")

	require.NoError(t, testDB.EnqueueIndex(ctx, d.ID, s.ID, storage.IndexOpUpsert))
	// One row per decision: a later delete overwrites the pending upsert.
	require.NoError(t, testDB.EnqueueIndex(ctx, d.ID, s.ID, storage.IndexOpDelete))

	entries, err := testDB.ClaimIndexEntries(ctx, 100, time.Minute)
	require.NoError(t, err)

	var mine []storage.IndexEntry
	for _, e := range entries {
		if e.DecisionID == d.ID {
			mine = append(mine, e)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, storage.IndexOpDelete, mine[0].Operation)

	// The soft lock keeps a second claimant away.
	entries, err = testDB.ClaimIndexEntries(ctx, 100, time.Minute)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, d.ID, e.DecisionID)
	}

	require.NoError(t, testDB.FailIndexEntries(ctx, []int64{mine[0].ID}, "index unreachable"))
	require.NoError(t, testDB.FinishIndexEntries(ctx, []int64{mine[0].ID}))

	pending, err := testDB.PendingIndexEntries(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pending, int64(0))
}

func TestDecisionStatusEnqueuesIndex(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	d := newDecision(t, s.ID, "security_compliance", "Require SSO for admin accounts")

	_, err := testDB.UpdateDecisionStatus(ctx, d.ID, model.DecisionApproved, nil)
	require.NoError(t, err)

	entries, err := testDB.ClaimIndexEntries(ctx, 100, time.Minute)
	require.NoError(t, err)
	var found *storage.IndexEntry
	for i := range entries {
		if entries[i].DecisionID == d.ID {
			found = &entries[i]
		}
	}
	require.NotNil(t, found, "status change should queue an index sync")
	assert.Equal(t, storage.IndexOpUpsert, found.Operation)
	require.NoError(t, testDB.FinishIndexEntries(ctx, []int64{found.ID}))

	// Rejection queues a delete instead.
	d2 := newDecision(t, s.ID, "security_compliance", "Store audit logs forever")
	_, err = testDB.UpdateDecisionStatus(ctx, d2.ID, model.DecisionRejected, nil)
	require.NoError(t, err)

	entries, err = testDB.ClaimIndexEntries(ctx, 100, time.Minute)
	require.NoError(t, err)
	found = nil
	for i := range entries {
		if entries[i].DecisionID == d2.ID {
			found = &entries[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, storage.IndexOpDelete, found.Operation)
	require.NoError(t, testDB.FinishIndexEntries(ctx, []int64{found.ID}))
}

func TestDecisionsForIndex(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	embedded := newDecision(t, s.ID, "data_model", "One tenant per schema")
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, embedded.ID, unitVec(5)))
	bare := newDecision(t, s.ID, "data_model", "Soft deletes everywhere")

	docs, err := testDB.DecisionsForIndex(ctx, []uuid.UUID{embedded.ID, bare.ID})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, embedded.ID, docs[0].ID)
	assert.Equal(t, s.ProjectID, docs[0].ProjectID)
	assert.Len(t, docs[0].Embedding, 768)

	byID, err := testDB.DecisionsByIDs(ctx, []uuid.UUID{embedded.ID, bare.ID})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
	assert.Equal(t, "Soft deletes everywhere", byID[bare.ID].Decision)
}

func TestSearchProjectDecisions(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	s1, err := testDB.CreateSession(ctx, projectID)
	require.NoError(t, err)
	s2, err := testDB.CreateSession(ctx, projectID)
	require.NoError(t, err)
	other := newSession(t)

	match := newDecision(t, s1.ID, "data_model", "Events are immutable after ingest")
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, match.ID, unitVec(7)))

	sibling := newDecision(t, s2.ID, "data_model", "Aggregates rebuild from the event log")
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, sibling.ID, unitVec(7)))

	// Same project but superseded: excluded.
	stale := newDecision(t, s1.ID, "data_model", "Mutable event rows")
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, stale.ID, unitVec(7)))
	_, err = testDB.UpdateDecisionStatus(ctx, stale.ID, model.DecisionSuperseded, &match.ID)
	require.NoError(t, err)

	// Different project: excluded.
	foreign := newDecision(t, other.ID, "data_model", "Unrelated project decision")
	require.NoError(t, testDB.SetEmbedding(ctx, storage.EmbedDecision, foreign.ID, unitVec(7)))

	hits, err := testDB.SearchProjectDecisions(ctx, unitVec(7), projectID, storage.SearchFilter{Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	got := map[uuid.UUID]bool{hits[0].ID: true, hits[1].ID: true}
	assert.True(t, got[match.ID])
	assert.True(t, got[sibling.ID])

	// Session filter narrows within the project.
	hits, err = testDB.SearchProjectDecisions(ctx, unitVec(7), projectID, storage.SearchFilter{SessionID: s2.ID})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, sibling.ID, hits[0].ID)
}

func TestAbandonInactiveSessions(t *testing.T) {
	ctx := context.Background()
	stale, err := testDB.CreateSession(ctx, uuid.New())
	require.NoError(t, err)
	fresh := newSession(t)

	// Sweep with a cutoff in the past touches nothing.
	n, err := testDB.AbandonInactiveSessions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate the stale session and sweep again.
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE sessions SET last_turn_at = now() - interval '48 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	n, err = testDB.AbandonInactiveSessions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := testDB.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionAbandoned, got.Status)

	got, err = testDB.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.Status)
}
