// Command etctl is the ExpenseTerminal operator CLI. It manages the database
// schema with the migrations embedded in the db package, and the SSM
// parameters the services resolve at startup.
//
// Usage:
//
//	etctl migrate up
//	etctl migrate down --steps=1
//	etctl migrate version
//	etctl migrate force 3
//	etctl secrets status --env=prod
//	etctl secrets put stripe/secret_key --env=prod < key.txt
//	etctl secrets put auth/jwt_secret --env=dev --generate
//
// The connection string comes from --database-url, falling back to
// DATABASE_URL (a .env file in the working directory is honored).
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd(newDBMigrator, newSSMClient).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
