package sqldb

import (
	"VideoScan-pipeline/internal/config"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// dialect 收斂 mysql 與 sqlite3 之間少數不同的語法
type dialect struct {
	name            string
	// hashtag 已存在時略過；不可用 INSERT IGNORE，否則長度錯誤會被降級為截斷
	hashtagConflict string
	lockSuffix      string // 鎖定影片列
}

var (
	mysqlDialect  = dialect{name: "mysql", hashtagConflict: " ON DUPLICATE KEY UPDATE hashtag = hashtag", lockSuffix: " FOR UPDATE"}
	sqliteDialect = dialect{name: "sqlite3", hashtagConflict: " ON CONFLICT (video_id, hashtag) DO NOTHING", lockSuffix: ""}
)

// SQLStore 是 pipeline 的關聯式資料庫存取層，同時支援 MySQL 與 SQLite
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// queryer 讓查詢輔助函式可同時用在 *sql.DB 與 *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DataSourceName 依驅動程式組出 database/sql 使用的 DSN
func DataSourceName(dbCfg config.DatabaseConfig) (string, error) {
	switch dbCfg.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName), nil
	case "sqlite3":
		if dbCfg.SQLitePath == "" {
			return "", fmt.Errorf("sqlite3 需要設定 database.sqlitePath")
		}
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbCfg.SQLitePath), nil
	default:
		return "", fmt.Errorf("不支援的資料庫驅動程式: %s", dbCfg.Driver)
	}
}

// NewSQLStore 開啟並檢查資料庫連線
func NewSQLStore(dbCfg config.DatabaseConfig) (*SQLStore, error) {
	dsn, err := DataSourceName(dbCfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dbCfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("開啟資料庫連線失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("無法連線到資料庫 (ping 失敗): %w", err)
	}

	d := mysqlDialect
	if dbCfg.Driver == "sqlite3" {
		d = sqliteDialect
		// SQLite 只允許單一寫入者
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	log.Printf("資訊：成功連線到 %s 資料庫。", dbCfg.Driver)
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		log.Printf("資訊：正在關閉 %s 資料庫連線...", s.dialect.name)
		return s.db.Close()
	}
	return nil
}
