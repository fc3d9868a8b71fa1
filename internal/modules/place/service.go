package place

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/diegopirazabal/docproy/internal/types"
)

var (
	ErrNotFound      = errors.New("place not found")
	ErrBadRequest    = errors.New("bad request")
	ErrDuplicateName = errors.New("place name already registered")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

type CreateCommand struct {
	Name string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return "", ErrBadRequest
	}
	p := &Place{
		ID:        newID(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Place, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Place, error) {
	return s.store.List(ctx)
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
