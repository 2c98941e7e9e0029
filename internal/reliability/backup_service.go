// Package reliability provides database backups, off-site archiving to Cloudflare R2
// and routine database maintenance.
package reliability

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/dynamo/internal/database"
	"github.com/rs/zerolog"
)

// BackupService takes consistent snapshots of the application databases
type BackupService struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// DatabaseNames returns the names of the databases to back up, sorted.
// The cache database is regenerable and only included when includeCache is set.
func (s *BackupService) DatabaseNames(includeCache bool) []string {
	names := make([]string, 0, len(s.databases))
	for name, db := range s.databases {
		if db == nil {
			continue
		}
		if !includeCache && db.Profile() == database.ProfileCache {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase writes a snapshot of the named database to destPath
func (s *BackupService) BackupDatabase(ctx context.Context, name, destPath string) error {
	db, ok := s.databases[name]
	if !ok || db == nil {
		return fmt.Errorf("unknown database %q", name)
	}

	if err := db.BackupTo(ctx, destPath); err != nil {
		return err
	}

	s.log.Debug().Str("database", name).Str("path", destPath).Msg("Database snapshot written")
	return nil
}
