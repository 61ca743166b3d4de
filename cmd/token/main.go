// Command token mints a signed access token for local testing and for
// operators driving the upload CLI against a development server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/server/auth"
)

func main() {
	user := flag.String("u", "operator", "user id")
	role := flag.String("r", auth.RoleOperator, "role: reader, operator or admin")
	secret := flag.String("s", os.Getenv("PRESS_JWT_SECRET"), "signing secret")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if !auth.HasRole(*role, auth.RoleReader, auth.RoleOperator, auth.RoleAdmin) {
		log.Fatalf("unknown role %q", *role)
	}
	if *secret == "" {
		log.Fatalf("signing secret is required (-s or PRESS_JWT_SECRET)")
	}

	token, err := auth.GenerateToken(*user, *role, []byte(*secret), *ttl)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(token)
}
