// Command api serves the storefront HTTP API with in-process queue workers.
// Use cmd/storefront for migrations, seeding and the standalone worker.
package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/app"
)

func main() {
	fx.New(app.HTTP).Run()
}
