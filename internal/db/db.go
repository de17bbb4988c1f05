package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the gorm driver from the DSN shape:
//
//	postgres://… or postgresql://… or "host=… user=…"  -> postgres
//	sqlite:<path>                                      -> embedded sqlite
//	anything else                                      -> mysql
func Dialector(dsn string) gorm.Dialector {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"), strings.HasPrefix(d, "host="):
		return postgres.Open(d)
	case strings.HasPrefix(d, "sqlite:"):
		return gormsqlite.Open(strings.TrimPrefix(d, "sqlite:"))
	default:
		return mysql.Open(d)
	}
}

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxIdleTime(30 * time.Second)

	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&jobinfo.JobInfo{}, &interview.Interview{}, &question.Question{})
}
