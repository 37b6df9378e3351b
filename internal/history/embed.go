package history

import "embed"

// migrationFS embeds the SQL migration files into the compiled binary.
// At runtime, no migration files need to exist on disk.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
