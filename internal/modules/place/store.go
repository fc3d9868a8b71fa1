package place

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *Place) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO places (id, name, created_at)
		VALUES ($1, $2, $3)`,
		string(p.ID), p.Name, p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Place, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, created_at FROM places WHERE id = $1`, string(id))

	var p Place
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) List(ctx context.Context) ([]Place, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, created_at FROM places ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
