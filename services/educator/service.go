package educator

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/repository"
)

type Service struct {
	node      *snowflake.Node
	educators repository.Repository[Educator]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:      p.Node,
		educators: repository.ProvideStore[Educator](p.DB),
	}
}

// FindByEmail resolves an educator by normalized email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*Educator, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, errutil.BadRequest("email must not be empty", nil)
	}

	edu, err := s.educators.FindOne(ctx, &Educator{Email: normalized})
	if err != nil {
		return nil, err
	}
	if edu == nil {
		return nil, errutil.NotFound("no educator matches email", nil)
	}
	return edu, nil
}

// Get returns the educator by id.
func (s *Service) Get(ctx context.Context, id string) (*Educator, error) {
	edu, err := s.educators.FindOne(ctx, &Educator{ID: id})
	if err != nil {
		return nil, err
	}
	if edu == nil {
		return nil, errutil.NotFound("educator not found", nil)
	}
	return edu, nil
}

// Register creates an educator with a normalized email.
func (s *Service) Register(ctx context.Context, email, name, school string) (*Educator, error) {
	edu := &Educator{
		ID:     s.node.Generate().String(),
		Email:  NormalizeEmail(email),
		Name:   name,
		School: school,
	}
	if edu.Email == "" {
		return nil, errutil.BadRequest("email must not be empty", nil)
	}

	if err := s.educators.Create(ctx, edu); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("educator already registered", err)
		}
		return nil, err
	}
	return edu, nil
}
