package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// fakeTx satisfies pgx.Tx so tests can pre-seed a transaction in the
// context. Mock repositories never touch it; transactional services join it
// instead of opening a real one.
type fakeTx struct {
	pgx.Tx
}

func txContext() context.Context {
	return database.SetTx(context.Background(), fakeTx{})
}

type mockPersonRepository struct {
	persons map[uuid.UUID]*models.Person
	err     error

	// hideEmailOnce makes the first GetByEmail for this address return
	// nil, simulating a concurrent insert that lands between the lookup
	// and the create.
	hideEmailOnce string
}

func newMockPersonRepository() *mockPersonRepository {
	return &mockPersonRepository{persons: make(map[uuid.UUID]*models.Person)}
}

func (m *mockPersonRepository) Create(ctx context.Context, person *models.Person) error {
	if m.err != nil {
		return m.err
	}
	if person.Email != nil {
		for _, p := range m.persons {
			if p.Email != nil && *p.Email == *person.Email {
				return apperrors.ErrConflict
			}
		}
	}
	now := time.Now()
	if person.ID == uuid.Nil {
		person.ID = uuid.New()
	}
	if person.FirstSeenAt.IsZero() {
		person.FirstSeenAt = now
	}
	if person.LastSeenAt.IsZero() {
		person.LastSeenAt = now
	}
	person.CreatedAt = now
	person.UpdatedAt = now
	m.persons[person.ID] = person
	return nil
}

func (m *mockPersonRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.persons[id], nil
}

func (m *mockPersonRepository) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.hideEmailOnce == email {
		m.hideEmailOnce = ""
		return nil, nil
	}
	for _, p := range m.persons {
		if p.Email != nil && *p.Email == email {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockPersonRepository) Update(ctx context.Context, person *models.Person) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.persons[person.ID]; !ok {
		return apperrors.ErrNotFound
	}
	person.UpdatedAt = time.Now()
	m.persons[person.ID] = person
	return nil
}

func (m *mockPersonRepository) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	p, ok := m.persons[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.LastSeenAt = time.Now()
	return nil
}

func (m *mockPersonRepository) ListPage(ctx context.Context, afterID uuid.UUID, limit int) ([]*models.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	all := make([]*models.Person, 0, len(m.persons))
	for _, p := range m.persons {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })

	page := make([]*models.Person, 0, limit)
	for _, p := range all {
		if afterID != uuid.Nil && p.ID.String() <= afterID.String() {
			continue
		}
		page = append(page, p)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (m *mockPersonRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.persons[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.persons, id)
	return nil
}

type mockIdentityLinkRepository struct {
	links []*models.IdentityLink
	err   error
}

func (m *mockIdentityLinkRepository) Upsert(ctx context.Context, link *models.IdentityLink) error {
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.links {
		if existing.Source == link.Source && existing.ExternalID == link.ExternalID {
			existing.PersonID = link.PersonID
			existing.UpdatedAt = time.Now()
			*link = *existing
			return nil
		}
	}
	link.ID = uuid.New()
	link.CreatedAt = time.Now()
	link.UpdatedAt = link.CreatedAt
	m.links = append(m.links, link)
	return nil
}

func (m *mockIdentityLinkRepository) GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.IdentityLink, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, link := range m.links {
		if link.Source == source && link.ExternalID == externalID {
			return link, nil
		}
	}
	return nil, nil
}

func (m *mockIdentityLinkRepository) GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.IdentityLink, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.IdentityLink
	for _, link := range m.links {
		if link.PersonID == personID {
			out = append(out, link)
		}
	}
	return out, nil
}

func (m *mockIdentityLinkRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var moved int64
	for _, link := range m.links {
		if link.PersonID == fromPersonID {
			link.PersonID = toPersonID
			moved++
		}
	}
	return moved, nil
}

type mockEventRepository struct {
	events []*models.Event
	err    error
}

func (m *mockEventRepository) Create(ctx context.Context, event *models.Event) error {
	if m.err != nil {
		return m.err
	}
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventRepository) GetByPersonSince(ctx context.Context, personID uuid.UUID, since time.Time) ([]*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Event
	for _, e := range m.events {
		if e.PersonID == personID && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (m *mockEventRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var moved int64
	for _, e := range m.events {
		if e.PersonID == fromPersonID {
			e.PersonID = toPersonID
			moved++
		}
	}
	return moved, nil
}

type mockFeaturesRepository struct {
	byPerson map[uuid.UUID]*models.PersonFeatures
	err      error
}

func newMockFeaturesRepository() *mockFeaturesRepository {
	return &mockFeaturesRepository{byPerson: make(map[uuid.UUID]*models.PersonFeatures)}
}

func (m *mockFeaturesRepository) Replace(ctx context.Context, features *models.PersonFeatures) error {
	if m.err != nil {
		return m.err
	}
	m.byPerson[features.PersonID] = features
	return nil
}

func (m *mockFeaturesRepository) GetByPerson(ctx context.Context, personID uuid.UUID) (*models.PersonFeatures, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byPerson[personID], nil
}

func (m *mockFeaturesRepository) ReassignPersonIfAbsent(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	features, ok := m.byPerson[fromPersonID]
	if !ok {
		return false, nil
	}
	if _, taken := m.byPerson[toPersonID]; taken {
		return false, nil
	}
	delete(m.byPerson, fromPersonID)
	features.PersonID = toPersonID
	m.byPerson[toPersonID] = features
	return true, nil
}

func (m *mockFeaturesRepository) DeleteByPerson(ctx context.Context, personID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	delete(m.byPerson, personID)
	return nil
}

type mockSegmentRepository struct {
	segments map[uuid.UUID]*models.Segment
	err      error
}

func newMockSegmentRepository() *mockSegmentRepository {
	return &mockSegmentRepository{segments: make(map[uuid.UUID]*models.Segment)}
}

func (m *mockSegmentRepository) Create(ctx context.Context, segment *models.Segment) error {
	if m.err != nil {
		return m.err
	}
	for _, s := range m.segments {
		if s.Name == segment.Name {
			return apperrors.ErrConflict
		}
	}
	segment.ID = uuid.New()
	segment.CreatedAt = time.Now()
	segment.UpdatedAt = segment.CreatedAt
	m.segments[segment.ID] = segment
	return nil
}

func (m *mockSegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.segments[id], nil
}

func (m *mockSegmentRepository) GetByName(ctx context.Context, name string) (*models.Segment, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.segments {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockSegmentRepository) List(ctx context.Context) ([]*models.Segment, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*models.Segment, 0, len(m.segments))
	for _, s := range m.segments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSegmentRepository) Update(ctx context.Context, segment *models.Segment) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.segments[segment.ID]; !ok {
		return apperrors.ErrNotFound
	}
	segment.UpdatedAt = time.Now()
	m.segments[segment.ID] = segment
	return nil
}

func (m *mockSegmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.segments[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.segments, id)
	return nil
}

type mockSegmentMemberRepository struct {
	members []*models.SegmentMember
	err     error
}

func (m *mockSegmentMemberRepository) Create(ctx context.Context, member *models.SegmentMember) error {
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.members {
		if existing.PersonID == member.PersonID && existing.SegmentID == member.SegmentID && existing.IsActive() {
			return apperrors.ErrConflict
		}
	}
	member.ID = uuid.New()
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	m.members = append(m.members, member)
	return nil
}

func (m *mockSegmentMemberRepository) GetActive(ctx context.Context, personID, segmentID uuid.UUID) (*models.SegmentMember, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, member := range m.members {
		if member.PersonID == personID && member.SegmentID == segmentID && member.IsActive() {
			return member, nil
		}
	}
	return nil, nil
}

func (m *mockSegmentMemberRepository) MarkLeft(ctx context.Context, id uuid.UUID, leftAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	for _, member := range m.members {
		if member.ID == id && member.IsActive() {
			member.LeftAt = &leftAt
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockSegmentMemberRepository) GetActiveBySegment(ctx context.Context, segmentID uuid.UUID) ([]*models.SegmentMember, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.SegmentMember
	for _, member := range m.members {
		if member.SegmentID == segmentID && member.IsActive() {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *mockSegmentMemberRepository) GetHistoryByPerson(ctx context.Context, personID uuid.UUID) ([]*models.SegmentMember, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.SegmentMember
	for _, member := range m.members {
		if member.PersonID == personID {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (m *mockSegmentMemberRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	kept := m.members[:0]
	for _, member := range m.members {
		if member.PersonID == fromPersonID && member.IsActive() {
			collides := false
			for _, other := range m.members {
				if other.PersonID == toPersonID && other.SegmentID == member.SegmentID && other.IsActive() {
					collides = true
					break
				}
			}
			if collides {
				continue
			}
		}
		kept = append(kept, member)
	}
	m.members = kept

	var moved int64
	for _, member := range m.members {
		if member.PersonID == fromPersonID {
			member.PersonID = toPersonID
			moved++
		}
	}
	return moved, nil
}

type mockDispatcher struct {
	dispatched []*AutomationEvent
	err        error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, event *AutomationEvent) error {
	if m.err != nil {
		return m.err
	}
	m.dispatched = append(m.dispatched, event)
	return nil
}
