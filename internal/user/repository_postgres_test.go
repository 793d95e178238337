package user

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresRepository_GetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "phone", "role", "created_at", "updated_at"}).
		AddRow(int64(4), "admin@example.com", "$2a$hash", "Ada", "Admin", "", "admin", now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(email\\)").
		WithArgs("admin@example.com").
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	u, err := repo.GetByEmail(context.Background(), " admin@example.com ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if u.ID != 4 || u.Role != RoleAdmin {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_CreateDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("a@example.com", "hash", "A", "B", "", "customer").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	repo := NewPostgresRepository(db)
	_, err = repo.Create(context.Background(), User{Email: "a@example.com", Password: "hash", FirstName: "A", LastName: "B"})
	if err != ErrEmailExists {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}
