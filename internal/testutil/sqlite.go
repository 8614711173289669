package testutil

import (
	"fmt"
	"log"
	"strings"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/storage"
)

const inMemoryDataSourceNamePattern = "file:dinerfeedback-test-%s?mode=memory&cache=shared&_foreign_keys=on"

// InMemoryConfig returns a storage configuration naming a fresh shared-cache in-memory database.
func InMemoryConfig(testingT *testing.T) storage.Config {
	testingT.Helper()
	return storage.Config{
		DriverName:     storage.DriverNameSQLite,
		DataSourceName: fmt.Sprintf(inMemoryDataSourceNamePattern, storage.NewID()),
	}
}

type testLogWriter struct {
	testingT *testing.T
}

func (writer testLogWriter) Write(data []byte) (int, error) {
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		writer.testingT.Log(trimmed)
	}
	return len(data), nil
}

// OpenMigratedDatabase opens a fresh in-memory database with the feedback schema applied.
// The pool is limited to one connection so concurrent test requests serialize instead of
// hitting shared-cache table locks. Gorm errors go to the test log.
func OpenMigratedDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()

	database, openErr := storage.OpenDatabase(InMemoryConfig(testingT))
	if openErr != nil {
		testingT.Fatalf("open test database: %v", openErr)
	}
	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		testingT.Fatalf("test database handle: %v", sqlErr)
	}
	sqlDatabase.SetMaxOpenConns(1)
	testingT.Cleanup(func() {
		_ = sqlDatabase.Close()
	})

	database = database.Session(&gorm.Session{Logger: logger.New(
		log.New(testLogWriter{testingT: testingT}, "", 0),
		logger.Config{IgnoreRecordNotFoundError: true, LogLevel: logger.Error},
	)})
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		testingT.Fatalf("migrate test database: %v", migrateErr)
	}
	return database
}
