// Command tokengen prints an access token for local testing of the API.
// Tokens are normally issued by the identity service.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/utils"
)

type options struct {
	Secret  string        `long:"secret" env:"JWT_SECRET" required:"true" description:"HMAC secret shared with the server"`
	Subject string        `short:"s" long:"sub" required:"true" description:"principal ID"`
	Role    string        `short:"r" long:"role" default:"USER" choice:"USER" choice:"ADMIN" description:"principal role"`
	Email   string        `short:"e" long:"email" description:"address for confirmations and reminders"`
	TTL     time.Duration `long:"ttl" default:"1h" description:"token lifetime"`
}

func main() {
	_ = godotenv.Load()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(opts.Secret, opts.Subject, opts.Role, opts.Email, opts.TTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	if opts.Role == model.RoleAdmin {
		fmt.Fprintln(os.Stderr, "admin token, expires", tok.Exp.Format(time.RFC3339))
	}
	fmt.Println(tok.Token)
}
