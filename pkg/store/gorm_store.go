package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"litshelf/pkg/domain"
)

const (
	migrateLockID    int64 = 51873101
	ownerClaimLockID int64 = 51873102
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &WorkModel{}, &ReviewModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle so other GORM-backed stores can share the pool.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by handle (without '@').
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("LOWER(username) = LOWER(?)", username).Order("updated_at DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// RegisterUser creates the user on first contact or refreshes its profile.
// The role of an existing user is never touched.
func (s *GormStore) RegisterUser(u domain.User) (domain.User, bool, error) {
	var (
		out     domain.User
		created bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var model UserModel
		err := tx.First(&model, "id = ?", u.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if u.Role == "" {
				u.Role = domain.RoleReader
			}
			u.CreatedAt, u.UpdatedAt = now, now
			model = userToModel(u)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.First(&model, "id = ?", u.ID).Error; err != nil {
					return err
				}
			} else {
				created = true
			}
			out = userFromModel(model)
			return nil
		}
		if err != nil {
			return err
		}
		if model.Username != u.Username || model.FirstName != u.FirstName {
			model.Username = u.Username
			model.FirstName = u.FirstName
			model.UpdatedAt = now
			if err := tx.Model(&UserModel{}).Where("id = ?", u.ID).Updates(map[string]any{
				"username":   u.Username,
				"first_name": u.FirstName,
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
		}
		out = userFromModel(model)
		return nil
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return out, created, nil
}

// SetUserRole assigns role, creating the user row when absent.
func (s *GormStore) SetUserRole(id int64, role domain.Role) (domain.User, error) {
	now := time.Now().UTC()
	model := UserModel{ID: id, Role: string(role), CreatedAt: now, UpdatedAt: now}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	user, _, err := s.GetUser(id)
	return user, err
}

// ClaimOwner grants the owner role to id if nobody holds it yet.
func (s *GormStore) ClaimOwner(id int64) (domain.User, error) {
	var out domain.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", ownerClaimLockID).Error; err != nil {
			return fmt.Errorf("acquire owner lock: %w", err)
		}
		var count int64
		if err := tx.Model(&UserModel{}).Where("role = ?", string(domain.RoleOwner)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrOwnerExists
		}
		now := time.Now().UTC()
		model := UserModel{ID: id, Role: string(domain.RoleOwner), CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		out = userFromModel(model)
		return nil
	})
	return out, err
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	return s.listUsers()
}

// ListUsersByRole returns users holding any of roles.
func (s *GormStore) ListUsersByRole(roles ...domain.Role) ([]domain.User, error) {
	if len(roles) == 0 {
		return []domain.User{}, nil
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return s.listUsers("role IN ?", names)
}

func (s *GormStore) listUsers(conds ...any) ([]domain.User, error) {
	var models []UserModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CreateWork inserts a new work and returns it with its assigned ID.
func (s *GormStore) CreateWork(w domain.Work) (domain.Work, error) {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	model := workToModel(w)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Work{}, err
	}
	return workFromModel(model), nil
}

// GetWork retrieves a work regardless of approval.
func (s *GormStore) GetWork(id int64) (domain.Work, bool, error) {
	return s.getWork("id = ?", id)
}

// GetApprovedWork retrieves a work only when it is approved.
func (s *GormStore) GetApprovedWork(id int64) (domain.Work, bool, error) {
	return s.getWork("id = ? AND approved = ?", id, true)
}

func (s *GormStore) getWork(query string, args ...any) (domain.Work, bool, error) {
	var model WorkModel
	if err := s.db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Work{}, false, nil
		}
		return domain.Work{}, false, err
	}
	return workFromModel(model), true, nil
}

// ListApprovedWorks returns approved works ordered by ID.
func (s *GormStore) ListApprovedWorks() ([]domain.Work, error) {
	return s.listWorks(true)
}

// ListPendingWorks returns works awaiting moderation ordered by ID.
func (s *GormStore) ListPendingWorks() ([]domain.Work, error) {
	return s.listWorks(false)
}

func (s *GormStore) listWorks(approved bool) ([]domain.Work, error) {
	var models []WorkModel
	if err := s.db.Where("approved = ?", approved).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Work, 0, len(models))
	for _, m := range models {
		res = append(res, workFromModel(m))
	}
	return res, nil
}

// ApprovePendingWork flips the approval flag of a pending work.
func (s *GormStore) ApprovePendingWork(id int64) (domain.Work, error) {
	var out domain.Work
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := lockWork(tx, "id = ? AND approved = ?", id, false)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&WorkModel{}).Where("id = ?", id).Updates(map[string]any{
			"approved":   true,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		model.Approved = true
		model.UpdatedAt = now
		out = workFromModel(model)
		return nil
	})
	return out, err
}

// RejectPendingWork deletes a pending work.
func (s *GormStore) RejectPendingWork(id int64) (domain.Work, error) {
	return s.deleteWork("id = ? AND approved = ?", id, false)
}

// DeleteWork removes a work and its reviews regardless of approval.
func (s *GormStore) DeleteWork(id int64) (domain.Work, error) {
	return s.deleteWork("id = ?", id)
}

func (s *GormStore) deleteWork(query string, args ...any) (domain.Work, error) {
	var out domain.Work
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := lockWork(tx, query, args...)
		if err != nil {
			return err
		}
		if err := tx.Delete(&ReviewModel{}, "work_id = ?", model.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&WorkModel{}, "id = ?", model.ID).Error; err != nil {
			return err
		}
		out = workFromModel(model)
		return nil
	})
	return out, err
}

func lockWork(tx *gorm.DB, query string, args ...any) (WorkModel, error) {
	var model WorkModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WorkModel{}, ErrNotFound
	}
	return model, err
}

// HasReview reports whether user already rated work.
func (s *GormStore) HasReview(workID, userID int64) (bool, error) {
	var count int64
	if err := s.db.Model(&ReviewModel{}).Where("work_id = ? AND user_id = ?", workID, userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListReviews returns reviews of a work, oldest first.
func (s *GormStore) ListReviews(workID int64) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.Where("work_id = ?", workID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// CommitRating inserts the review and folds its stars into the work aggregate
// in one transaction. The work row is locked for the read-modify-write.
func (s *GormStore) CommitRating(r domain.Review) (domain.Work, error) {
	var out domain.Work
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := lockWork(tx, "id = ? AND approved = ?", r.WorkID, true)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&ReviewModel{}).Where("work_id = ? AND user_id = ?", r.WorkID, r.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyRated
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		review := reviewToModel(r)
		review.ID = 0
		if err := tx.Create(&review).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyRated
			}
			return err
		}
		work := workFromModel(model).AddRating(r.Stars)
		work.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&WorkModel{}).Where("id = ?", work.ID).Updates(map[string]any{
			"rating":       work.Rating,
			"rating_count": work.RatingCount,
			"rating_sum":   work.RatingSum,
			"updated_at":   work.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		out = work
		return nil
	})
	return out, err
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.Role(m.Role)
	if !role.Valid() {
		role = domain.RoleReader
	}
	return domain.User{
		ID:        m.ID,
		Username:  m.Username,
		FirstName: m.FirstName,
		Role:      role,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func workToModel(w domain.Work) WorkModel {
	return WorkModel{
		ID:          w.ID,
		AuthorID:    w.AuthorID,
		Title:       w.Title,
		Content:     w.Content,
		Approved:    w.Approved,
		Rating:      w.Rating,
		RatingCount: w.RatingCount,
		RatingSum:   w.RatingSum,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func workFromModel(m WorkModel) domain.Work {
	return domain.Work{
		ID:          m.ID,
		AuthorID:    m.AuthorID,
		Title:       m.Title,
		Content:     m.Content,
		Approved:    m.Approved,
		Rating:      m.Rating,
		RatingCount: m.RatingCount,
		RatingSum:   m.RatingSum,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		WorkID:    r.WorkID,
		UserID:    r.UserID,
		Stars:     r.Stars,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		WorkID:    m.WorkID,
		UserID:    m.UserID,
		Stars:     m.Stars,
		Comment:   m.Comment,
		CreatedAt: m.CreatedAt,
	}
}
