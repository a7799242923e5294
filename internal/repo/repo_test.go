package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/migrate"
	"checkline/internal/repo"
)

type RepoSuite struct {
	suite.Suite
	// open returns a migrated, empty database; nil means a fresh SQLite workspace.
	open func() (*sql.DB, db.Dialect)
	conn *sql.DB
	repo repo.Repo
	now  time.Time
	ctx  context.Context
}

func TestRepoSuite(t *testing.T) {
	suite.Run(t, new(RepoSuite))
}

func (s *RepoSuite) SetupTest() {
	s.ctx = context.Background()
	var (
		conn    *sql.DB
		dialect db.Dialect
	)
	if s.open != nil {
		conn, dialect = s.open()
	} else {
		var err error
		conn, dialect, err = db.Open(db.Config{Workspace: s.T().TempDir()})
		s.Require().NoError(err)
		s.Require().NoError(migrate.Migrate(s.ctx, conn, dialect))
	}
	s.conn = conn
	s.repo = repo.New(conn, dialect)
	s.now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *RepoSuite) TearDownTest() {
	s.conn.Close()
}

func (s *RepoSuite) insertChecklist(id string, a domain.Attachment) domain.Checklist {
	c := domain.Checklist{ID: id, CreatedBy: "alice", CreatedAt: s.now, UpdatedAt: s.now, SchemaVersion: "v1"}
	c.SetAttachment(a)
	s.Require().NoError(s.repo.InsertChecklist(s.ctx, nil, c))
	return c
}

func (s *RepoSuite) TestChecklistRoundTrip() {
	s.insertChecklist("c1", domain.ProductAttachment("p1"))

	got, err := s.repo.GetChecklist(s.ctx, nil, "c1")
	s.Require().NoError(err)
	s.Equal(domain.ProductAttachment("p1"), got.Attachment())
	s.Equal(s.now, got.CreatedAt)
	s.Equal(int64(1), got.Version)
	s.False(got.IsVerified())

	byTarget, err := s.repo.GetChecklistByAttachment(s.ctx, nil, domain.ProductAttachment("p1"))
	s.Require().NoError(err)
	s.Equal("c1", byTarget.ID)

	_, err = s.repo.GetChecklist(s.ctx, nil, "missing")
	s.ErrorIs(err, repo.ErrNotFound)
	_, err = s.repo.GetChecklistByAttachment(s.ctx, nil, domain.DeliveryPlanProductAttachment("p1"))
	s.ErrorIs(err, repo.ErrNotFound)
}

func (s *RepoSuite) TestOneChecklistPerTarget() {
	s.insertChecklist("c1", domain.DeliveryPlanProductAttachment("d1"))
	c := domain.Checklist{ID: "c2", CreatedBy: "bob", CreatedAt: s.now, UpdatedAt: s.now}
	c.SetAttachment(domain.DeliveryPlanProductAttachment("d1"))
	err := s.repo.InsertChecklist(s.ctx, nil, c)
	s.ErrorIs(err, repo.ErrConflict)

	// unattached checklists do not collide with each other
	s.insertChecklist("u1", domain.Attachment{})
	s.insertChecklist("u2", domain.Attachment{})
}

func (s *RepoSuite) TestUpsertResponseReplacesInPlace() {
	s.insertChecklist("c1", domain.ProductAttachment("p1"))
	resp := domain.Response{ID: "r1", ChecklistID: "c1", CategoryID: "optics", ItemID: "lens-clean", UpdatedAt: s.now}
	resp.SetValue(domain.BoolValue(true))

	first, err := s.repo.UpsertResponse(s.ctx, nil, resp)
	s.Require().NoError(err)
	s.Equal(int64(1), first.Version)

	resp.ID = "r2"
	resp.SetValue(domain.BoolValue(false))
	resp.UpdatedAt = s.now.Add(time.Minute)
	second, err := s.repo.UpsertResponse(s.ctx, nil, resp)
	s.Require().NoError(err)
	s.Equal("r1", second.ID)
	s.Equal(int64(2), second.Version)
	s.Equal(domain.BoolValue(false), second.Value())
	s.Equal(s.now, second.CreatedAt)
	s.Equal(s.now.Add(time.Minute), second.UpdatedAt)

	all, err := s.repo.ListResponses(s.ctx, nil, "c1")
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *RepoSuite) TestInsertAndReplaceResponseConflicts() {
	s.insertChecklist("c1", domain.ProductAttachment("p1"))
	resp := domain.Response{ID: "r1", ChecklistID: "c1", CategoryID: "body", ItemID: "serial", UpdatedAt: s.now}
	resp.SetValue(domain.TextValue("SN-1"))
	_, err := s.repo.InsertResponse(s.ctx, nil, resp)
	s.Require().NoError(err)

	resp.ID = "r2"
	_, err = s.repo.InsertResponse(s.ctx, nil, resp)
	s.ErrorIs(err, repo.ErrConflict)

	resp.SetValue(domain.TextValue("SN-2"))
	updated, err := s.repo.ReplaceResponse(s.ctx, nil, resp, 1)
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)
	s.Equal("SN-2", updated.Value().Text())

	_, err = s.repo.ReplaceResponse(s.ctx, nil, resp, 1)
	s.ErrorIs(err, repo.ErrConflict)
}

func (s *RepoSuite) TestTouchChecklistNeverMovesBackwards() {
	s.insertChecklist("c1", domain.ProductAttachment("p1"))
	later := s.now.Add(time.Hour)
	s.Require().NoError(s.repo.TouchChecklist(s.ctx, nil, "c1", "bob", later))
	s.Require().NoError(s.repo.TouchChecklist(s.ctx, nil, "c1", "", s.now))

	got, err := s.repo.GetChecklist(s.ctx, nil, "c1")
	s.Require().NoError(err)
	s.Equal(later, got.UpdatedAt)
	s.Require().NotNil(got.UpdatedBy)
	s.Equal("bob", *got.UpdatedBy)
	s.Equal(int64(3), got.Version)

	s.ErrorIs(s.repo.TouchChecklist(s.ctx, nil, "missing", "bob", later), repo.ErrNotFound)
}

func (s *RepoSuite) TestUpdateChecklistCompareAndSwap() {
	c := s.insertChecklist("c1", domain.ProductAttachment("p1"))
	verifier := "carol"
	at := s.now.Add(time.Hour)
	c.VerifiedBy, c.VerifiedAt, c.UpdatedBy, c.UpdatedAt = &verifier, &at, &verifier, at

	updated, err := s.repo.UpdateChecklist(s.ctx, nil, c, 1)
	s.Require().NoError(err)
	s.True(updated.IsVerified())
	s.Equal(int64(2), updated.Version)

	_, err = s.repo.UpdateChecklist(s.ctx, nil, c, 1)
	s.ErrorIs(err, repo.ErrConflict)

	verified := true
	list, err := s.repo.ListChecklists(s.ctx, nil, repo.ChecklistFilter{Verified: &verified})
	s.Require().NoError(err)
	s.Len(list, 1)
	verified = false
	list, err = s.repo.ListChecklists(s.ctx, nil, repo.ChecklistFilter{Verified: &verified})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *RepoSuite) TestChecklistLockHoldsOffOtherWriters() {
	s.insertChecklist("c1", domain.ProductAttachment("p1"))

	holder, err := s.repo.BeginTx(s.ctx)
	s.Require().NoError(err)
	locked, err := s.repo.GetChecklistForUpdate(s.ctx, holder, "c1")
	s.Require().NoError(err)
	s.Equal("c1", locked.ID)

	// a second writer cannot take the lock while holder is open
	waitCtx, cancel := context.WithTimeout(s.ctx, 200*time.Millisecond)
	defer cancel()
	waiter, err := s.repo.BeginTx(waitCtx)
	if err == nil {
		_, err = s.repo.GetChecklistForUpdate(waitCtx, waiter, "c1")
		waiter.Rollback()
	}
	s.Error(err)

	s.Require().NoError(holder.Commit())
	next, err := s.repo.BeginTx(s.ctx)
	s.Require().NoError(err)
	defer next.Rollback()
	_, err = s.repo.GetChecklistForUpdate(s.ctx, next, "c1")
	s.Require().NoError(err)
	_, err = s.repo.GetChecklistForUpdate(s.ctx, next, "missing")
	s.ErrorIs(err, repo.ErrNotFound)
}

func (s *RepoSuite) TestDirectory() {
	s.Require().NoError(s.repo.UpsertProduct(s.ctx, nil, "p1", "Camera", s.now))
	s.Require().NoError(s.repo.UpsertDeliveryPlanProduct(s.ctx, nil, "d1", "p1", "", s.now))
	s.Require().NoError(s.repo.EnsureActor(s.ctx, nil, "alice", s.now))
	s.Require().NoError(s.repo.EnsureActor(s.ctx, nil, "alice", s.now))

	ok, err := s.repo.ProductExists(s.ctx, "p1")
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.repo.DeliveryPlanProductExists(s.ctx, "d1")
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.repo.ProductExists(s.ctx, "d1")
	s.Require().NoError(err)
	s.False(ok)
	ok, err = s.repo.ActorExists(s.ctx, "alice")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RepoSuite) TestAPIKeys() {
	key := domain.APIKey{ID: "k1", ActorID: "alice", Name: "ci", KeyHash: repo.HashAPIKey(" secret "), Permissions: []string{"checklist.verify"}, CreatedAt: s.now}
	s.Require().NoError(s.repo.InsertAPIKey(s.ctx, nil, key))

	got, err := s.repo.GetAPIKeyByHash(s.ctx, repo.HashAPIKey("secret"))
	s.Require().NoError(err)
	s.Equal([]string{"checklist.verify"}, got.Permissions)
	s.Equal("ci", got.Name)

	keys, err := s.repo.ListAPIKeys(s.ctx, "alice")
	s.Require().NoError(err)
	s.Len(keys, 1)

	s.Require().NoError(s.repo.DeleteAPIKey(s.ctx, "k1"))
	s.ErrorIs(s.repo.DeleteAPIKey(s.ctx, "k1"), repo.ErrNotFound)
}
