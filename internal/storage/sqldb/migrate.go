package sqldb

import (
	"VideoScan-pipeline/internal/config"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

func migrateURL(dbCfg config.DatabaseConfig) (string, error) {
	switch dbCfg.Driver {
	case "mysql":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&multiStatements=true",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName), nil
	case "sqlite3":
		if dbCfg.SQLitePath == "" {
			return "", fmt.Errorf("sqlite3 需要設定 database.sqlitePath")
		}
		return "sqlite3://" + dbCfg.SQLitePath + "?_foreign_keys=on", nil
	default:
		return "", fmt.Errorf("不支援的資料庫驅動程式: %s", dbCfg.Driver)
	}
}

// Migrate 套用內嵌在執行檔中的 schema 遷移
func Migrate(dbCfg config.DatabaseConfig) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dbCfg.Driver)
	if err != nil {
		return fmt.Errorf("載入 %s 遷移檔失敗: %w", dbCfg.Driver, err)
	}
	dbURL, err := migrateURL(dbCfg)
	if err != nil {
		return err
	}
	log.Printf("資訊：準備執行資料庫遷移，驅動程式: %s", dbCfg.Driver)
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("建立遷移實例失敗: %w", err)
	}
	defer m.Close()

	currentVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("獲取資料庫遷移版本失敗: %w", err)
	}
	if dirty {
		return fmt.Errorf("資料庫處於 dirty 狀態 (版本 %d)，遷移失敗", currentVersion)
	}
	log.Printf("資訊：目前資料庫版本: %d。開始應用遷移...", currentVersion)

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("資訊：資料庫結構已是最新，無需遷移。")
	case err != nil:
		return fmt.Errorf("執行資料庫遷移 (m.Up) 失敗: %w", err)
	default:
		newVersion, _, _ := m.Version()
		log.Printf("資訊：資料庫遷移成功完成，版本更新至: %d。", newVersion)
	}
	return nil
}
