package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Username  string `gorm:"index"`
	FirstName string
	Role      string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type WorkModel struct {
	ID          int64     `gorm:"primaryKey"`
	AuthorID    int64     `gorm:"not null;index"`
	Title       string    `gorm:"size:100;not null"`
	Content     string    `gorm:"type:text;not null"`
	Approved    bool      `gorm:"not null;default:false;index"`
	Rating      float64   `gorm:"not null;default:0"`
	RatingCount int       `gorm:"not null;default:0"`
	RatingSum   int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID        int64     `gorm:"primaryKey"`
	WorkID    int64     `gorm:"not null;uniqueIndex:idx_review_work_user"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_review_work_user"`
	Stars     int       `gorm:"not null"`
	Comment   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}
