package repository

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"schooldesk/auth-identity/internal/model"
)

const (
	roleCacheSize = 16
	roleCacheTTL  = 10 * time.Minute

	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed credential store.
type Store struct {
	pool  *pgxpool.Pool
	roles *expirable.LRU[model.Role, int64]
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:  pool,
		roles: expirable.NewLRU[model.Role, int64](roleCacheSize, nil, roleCacheTTL),
	}
}

// WithTx runs fn inside one transaction. Any error from fn, or a panic, rolls
// the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Annotate(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Annotate(translate(err), "commit transaction")
	}
	return nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, errors.Annotate(err, "check email")
	}
	return exists, nil
}

// RoleID resolves a role name to its row id. Ids are cached for a few minutes.
func (s *Store) RoleID(ctx context.Context, role model.Role) (int64, error) {
	if id, ok := s.roles.Get(role); ok {
		return id, nil
	}
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, string(role)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errors.NotFoundf("role %q", role)
		}
		return 0, errors.Annotate(err, "lookup role")
	}
	s.roles.Add(role, id)
	return id, nil
}

const accountColumns = `u.id, u.email, u.password_hash, u.role_id, r.name, u.is_active, u.last_login, u.created_at, u.updated_at`

// GetActiveAccountByEmail only returns accounts that may log in.
func (s *Store) GetActiveAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE LOWER(u.email) = LOWER($1) AND u.is_active = TRUE
	`, email)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, errors.NotFoundf("account %q", email)
	}
	return account, errors.Annotate(err, "get account by email")
}

func (s *Store) GetAccountByID(ctx context.Context, id int64) (model.Account, error) {
	return getAccountByID(ctx, s.pool, id)
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`, at, id)
	return affected(tag, err, id)
}

func (s *Store) TouchLogout(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET updated_at = $1 WHERE id = $2`, at, id)
	return affected(tag, err, id)
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, at, id)
	return affected(tag, err, id)
}

func (s *Store) SetActive(ctx context.Context, id int64, active bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, at, id)
	return affected(tag, err, id)
}

// GetProfile loads the profile row owned by an account. Admins have none and
// a missing row yields a nil profile.
func (s *Store) GetProfile(ctx context.Context, accountID int64, role model.Role) (model.Profile, error) {
	profile, err := getProfile(ctx, s.pool, accountID, role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return profile, errors.Annotate(err, "get profile")
}

// CreateAccount writes the account row, its profile row and the optional
// primary student-parent link in one transaction.
func (s *Store) CreateAccount(ctx context.Context, account model.NewAccount, profile model.Profile) (model.Account, model.Profile, error) {
	var (
		created      model.Account
		savedProfile model.Profile
	)
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash, role_id)
			VALUES ($1, $2, $3)
			RETURNING id
		`, strings.ToLower(account.Email), account.PasswordHash, account.RoleID).Scan(&id)
		if err != nil {
			return errors.Annotate(translate(err), "insert account")
		}

		if profile != nil {
			if err := insertProfile(ctx, tx, id, profile); err != nil {
				return errors.Annotate(translate(err), "insert profile")
			}
		}

		created, err = getAccountByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if profile != nil {
			savedProfile, err = getProfile(ctx, tx, id, created.Role)
			if err != nil {
				return errors.Annotate(err, "reload profile")
			}
		}
		return nil
	})
	if err != nil {
		return model.Account{}, nil, err
	}
	return created, savedProfile, nil
}

func insertProfile(ctx context.Context, tx pgx.Tx, accountID int64, profile model.Profile) error {
	switch p := profile.(type) {
	case *model.StudentProfile:
		var studentID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO students (user_id, student_id, admission_number, admission_date, first_name, last_name, date_of_birth, gender, phone, address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, accountID, p.StudentID, p.AdmissionNumber, p.AdmissionDate, p.FirstName, p.LastName,
			p.DateOfBirth, nullable(p.Gender), nullable(p.Phone), nullable(p.Address)).Scan(&studentID)
		if err != nil {
			return err
		}
		if p.ParentID != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO student_parents (student_id, parent_id, relationship, is_primary)
				VALUES ($1, $2, 'Guardian', TRUE)
			`, studentID, *p.ParentID)
			return err
		}
		return nil
	case *model.TeacherProfile:
		_, err := tx.Exec(ctx, `
			INSERT INTO teachers (user_id, employee_id, first_name, last_name, phone, qualification, specialization, joining_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, accountID, p.EmployeeID, p.FirstName, p.LastName, nullable(p.Phone),
			nullable(p.Qualification), nullable(p.Specialization), p.JoiningDate)
		return err
	case *model.ParentProfile:
		_, err := tx.Exec(ctx, `
			INSERT INTO parents (user_id, first_name, last_name, phone, occupation, address)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, accountID, p.FirstName, p.LastName, p.Phone, nullable(p.Occupation), nullable(p.Address))
		return err
	default:
		return errors.NotSupportedf("profile %T", profile)
	}
}

func getAccountByID(ctx context.Context, q querier, id int64) (model.Account, error) {
	row := q.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, errors.NotFoundf("account %d", id)
	}
	return account, errors.Annotate(err, "get account")
}

func getProfile(ctx context.Context, q querier, accountID int64, role model.Role) (model.Profile, error) {
	switch role {
	case model.RoleAdmin:
		return nil, nil
	case model.RoleStudent:
		var p model.StudentProfile
		err := q.QueryRow(ctx, `
			SELECT s.id, s.user_id, s.student_id, s.admission_number, s.admission_date, s.first_name, s.last_name,
				s.date_of_birth, COALESCE(s.gender, ''), COALESCE(s.phone, ''), COALESCE(s.address, ''),
				sp.parent_id, s.created_at, s.updated_at
			FROM students s
			LEFT JOIN student_parents sp ON sp.student_id = s.id AND sp.is_primary
			WHERE s.user_id = $1
		`, accountID).Scan(&p.ID, &p.AccountID, &p.StudentID, &p.AdmissionNumber, &p.AdmissionDate, &p.FirstName, &p.LastName,
			&p.DateOfBirth, &p.Gender, &p.Phone, &p.Address, &p.ParentID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case model.RoleTeacher:
		var p model.TeacherProfile
		err := q.QueryRow(ctx, `
			SELECT id, user_id, employee_id, first_name, last_name, COALESCE(phone, ''), COALESCE(qualification, ''),
				COALESCE(specialization, ''), joining_date, created_at, updated_at
			FROM teachers
			WHERE user_id = $1
		`, accountID).Scan(&p.ID, &p.AccountID, &p.EmployeeID, &p.FirstName, &p.LastName, &p.Phone, &p.Qualification,
			&p.Specialization, &p.JoiningDate, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case model.RoleParent:
		var p model.ParentProfile
		err := q.QueryRow(ctx, `
			SELECT id, user_id, first_name, last_name, phone, COALESCE(occupation, ''), COALESCE(address, ''), created_at, updated_at
			FROM parents
			WHERE user_id = $1
		`, accountID).Scan(&p.ID, &p.AccountID, &p.FirstName, &p.LastName, &p.Phone, &p.Occupation, &p.Address, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, errors.NotValidf("role %q", role)
	}
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var (
		account model.Account
		role    string
	)
	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &account.RoleID, &role,
		&account.Active, &account.LastLogin, &account.CreatedAt, &account.UpdatedAt)
	account.Role = model.Role(role)
	return account, err
}

func affected(tag pgconn.CommandTag, err error, id int64) error {
	if err != nil {
		return errors.Trace(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundf("account %d", id)
	}
	return nil
}

// translate maps constraint violations onto the error taxonomy used by callers.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		if pgErr.ConstraintName == "users_email_lower_idx" {
			return errors.AlreadyExistsf("email")
		}
		return errors.AlreadyExistsf("%s", describeConstraint(pgErr.ConstraintName))
	case foreignKeyViolation:
		if strings.Contains(pgErr.ConstraintName, "parent") {
			return errors.BadRequestf("parent not found")
		}
		return errors.BadRequestf("referenced record not found")
	default:
		return err
	}
}

func describeConstraint(name string) string {
	switch name {
	case "students_admission_number_key":
		return "admission number"
	case "students_student_id_key":
		return "student id"
	case "teachers_employee_id_key":
		return "employee id"
	default:
		return "record"
	}
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
