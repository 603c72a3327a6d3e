package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Store persists users, tenants, and memberships. These are global
// collections: tenant scoping does not apply to the principals themselves.
type Store struct {
	users       *mongo.Collection
	tenants     *mongo.Collection
	memberships *mongo.Collection
}

// NewStore builds the store over the identity collections.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		users:       db.Collection("users"),
		tenants:     db.Collection("tenants"),
		memberships: db.Collection("memberships"),
	}
}

// ============================================================================
// Users
// ============================================================================

// CreateUser inserts a user. Email uniqueness is enforced by the index.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrConflict("a user with this email already exists")
		}
		return apperror.ErrDatabase("failed to create user", err)
	}
	return nil
}

// FindUserByID returns the user or nil.
func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.M{"id": id})
}

// FindUserByEmail returns the user or nil.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := s.users.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query user", err)
	}
	return &user, nil
}

// UpdateUserProfile patches the mutable profile fields. Identity and
// privilege fields (email, passwordHash, platformRole) are not reachable
// through this path.
func (s *Store) UpdateUserProfile(ctx context.Context, userID string, name string) (*User, error) {
	update := bson.M{"$set": bson.M{"name": name, "updatedAt": time.Now().UTC()}}
	res, err := s.users.UpdateOne(ctx, bson.M{"id": userID}, update)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to update user", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperror.ErrNotFound("user", userID)
	}
	return s.FindUserByID(ctx, userID)
}

// CountUsers returns the number of users, for platform stats.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, apperror.ErrDatabase("failed to count users", err)
	}
	return n, nil
}

// ============================================================================
// Tenants
// ============================================================================

// CreateTenant inserts a tenant. Slug uniqueness is enforced by the index.
func (s *Store) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if _, err := s.tenants.InsertOne(ctx, tenant); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrConflict("a tenant with this slug already exists")
		}
		return apperror.ErrDatabase("failed to create tenant", err)
	}
	return nil
}

// FindTenantByID returns the tenant or nil.
func (s *Store) FindTenantByID(ctx context.Context, id string) (*Tenant, error) {
	return s.findTenant(ctx, bson.M{"id": id})
}

// FindTenantBySlug returns the tenant or nil.
func (s *Store) FindTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.findTenant(ctx, bson.M{"slug": slug})
}

func (s *Store) findTenant(ctx context.Context, filter bson.M) (*Tenant, error) {
	var tenant Tenant
	err := s.tenants.FindOne(ctx, filter).Decode(&tenant)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query tenant", err)
	}
	return &tenant, nil
}

// ListTenants returns tenants ordered by name, optionally filtered by status.
func (s *Store) ListTenants(ctx context.Context, status string) ([]*Tenant, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := s.tenants.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, apperror.ErrDatabase("failed to list tenants", err)
	}
	defer cursor.Close(ctx)

	tenants := []*Tenant{}
	if err := cursor.All(ctx, &tenants); err != nil {
		return nil, apperror.ErrDatabase("failed to decode tenants", err)
	}
	return tenants, nil
}

// UpdateTenant patches name, status, and quotas.
func (s *Store) UpdateTenant(ctx context.Context, id string, patch bson.M) (*Tenant, error) {
	allowed := bson.M{"updatedAt": time.Now().UTC()}
	for _, key := range []string{"name", "status", "quotas", "settings"} {
		if v, ok := patch[key]; ok {
			allowed[key] = v
		}
	}
	res, err := s.tenants.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": allowed})
	if err != nil {
		return nil, apperror.ErrDatabase("failed to update tenant", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperror.ErrNotFound("tenant", id)
	}
	return s.FindTenantByID(ctx, id)
}

// DeleteTenant marks the tenant inactive. Tenant rows are never removed;
// the id anchors audit history.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.tenants.UpdateOne(ctx, bson.M{"id": id},
		bson.M{"$set": bson.M{"status": TenantStatusInactive, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return apperror.ErrDatabase("failed to delete tenant", err)
	}
	if res.MatchedCount == 0 {
		return apperror.ErrNotFound("tenant", id)
	}
	return nil
}

// CountTenants returns the number of tenants, for platform stats.
func (s *Store) CountTenants(ctx context.Context) (int64, error) {
	n, err := s.tenants.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, apperror.ErrDatabase("failed to count tenants", err)
	}
	return n, nil
}

// ============================================================================
// Memberships
// ============================================================================

// CreateMembership inserts a membership. The (userId, tenantId, role) triple
// is unique; memberships are never updated.
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	if _, err := s.memberships.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrConflict("membership already exists")
		}
		return apperror.ErrDatabase("failed to create membership", err)
	}
	return nil
}

// FindMemberships returns all memberships of a user.
func (s *Store) FindMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	cursor, err := s.memberships.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query memberships", err)
	}
	defer cursor.Close(ctx)

	memberships := []*Membership{}
	if err := cursor.All(ctx, &memberships); err != nil {
		return nil, apperror.ErrDatabase("failed to decode memberships", err)
	}
	return memberships, nil
}

// FindMembership returns the user's membership in a tenant, or nil.
func (s *Store) FindMembership(ctx context.Context, userID, tenantID string) (*Membership, error) {
	var m Membership
	err := s.memberships.FindOne(ctx, bson.M{"userId": userID, "tenantId": tenantID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query membership", err)
	}
	return &m, nil
}

// DeleteMembership removes a membership.
func (s *Store) DeleteMembership(ctx context.Context, userID, tenantID, role string) error {
	res, err := s.memberships.DeleteOne(ctx, bson.M{"userId": userID, "tenantId": tenantID, "role": role})
	if err != nil {
		return apperror.ErrDatabase("failed to delete membership", err)
	}
	if res.DeletedCount == 0 {
		return apperror.ErrNotFound("membership", userID+"/"+tenantID)
	}
	return nil
}
