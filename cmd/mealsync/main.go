// ABOUTME: Demo CLI exercising the local-first session and order sync stack.
// ABOUTME: Subcommands: signup, signin, restore, status, profile, orders, signout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"mealsync/orders"
	"mealsync/session"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "signup":
		signup()
	case "signin":
		signin()
	case "signout":
		signout()
	case "restore":
		restore()
	case "status":
		status()
	case "profile":
		profile()
	case "orders":
		listOrders()
	default:
		usage()
	}
}

func usage() {
	fmt.Println(`usage: mealsync <command>

  signup   -email -password [-name -username -role]   create an account
  signin   -email -password                           sign in
  restore                                             replay session at startup
  status                                              print current state
  profile  [-email -name -username]                   update profile fields
  orders   [-refresh]                                 list orders, cache-first
  signout                                             sign out`)
}

func signup() {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "display name")
	username := fs.String("username", "", "username")
	role := fs.String("role", "customer", "customer|driver|restaurant_owner")
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		user, err := rt.sync.SignUp(ctx, *email, *password, session.NewUserProfile{
			Name:     *name,
			Username: *username,
			Role:     session.Role(*role),
		})
		if err != nil {
			return err
		}
		fmt.Printf("signed up as %s (%s)\n", user.Email, user.ID)
		return nil
	})
}

func signin() {
	fs := flag.NewFlagSet("signin", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		user, err := rt.sync.SignIn(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", user.Email, user.ID)
		return nil
	})
}

func signout() {
	fs := flag.NewFlagSet("signout", flag.ExitOnError)
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		rt.sync.SignOut(ctx)
		fmt.Println("signed out")
		return nil
	})
}

func restore() {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		st, err := rt.sync.Restore(ctx)
		printState(st)
		return err
	})
}

func status() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		printState(rt.sync.Current())
		fmt.Printf("network: connected=%v\n", rt.mon.Connected())
		return nil
	})
}

func profile() {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	email := fs.String("email", "", "new email")
	name := fs.String("name", "", "new display name")
	username := fs.String("username", "", "new username")
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		if _, err := rt.sync.Restore(ctx); err != nil {
			return err
		}
		user, err := rt.sync.UpdateProfile(ctx, session.ProfileUpdate{
			Email:    *email,
			Name:     *name,
			Username: *username,
		})
		if err != nil {
			return err
		}
		fmt.Printf("profile updated: %s %s @%s\n", user.Email, user.Name, user.Username)
		return nil
	})
}

func listOrders() {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "bypass the cache and refresh remotely")
	mustParse(fs)

	run(func(ctx context.Context, rt *runtime) error {
		if _, err := rt.sync.Restore(ctx); err != nil {
			return err
		}
		restaurants := orders.NewRestaurants(rt.cache, rt.remote, rt.log)
		syncer := orders.NewOrders(rt.cache, rt.remote, restaurants, rt.log)

		list, err := syncer.Fetch(ctx, rt.sync.CurrentUserID(), *refresh)
		if err != nil {
			return err
		}
		for _, o := range list {
			name := o.RestaurantID
			if o.Restaurant != nil {
				name = o.Restaurant.Name
			}
			fmt.Printf("%s  %-11s  %8.2f  %s  %s\n",
				o.CreatedAt.Format("2006-01-02 15:04"), o.Status,
				float64(o.TotalCents)/100, name, o.ID)
		}
		if len(list) == 0 {
			fmt.Println("no orders")
		}
		return nil
	})
}

func printState(st session.State) {
	switch {
	case st.SignedIn() && st.FromCache:
		fmt.Printf("signed in (offline, cached): %s (%s)\n", st.User.Email, st.User.ID)
	case st.SignedIn():
		fmt.Printf("signed in: %s (%s)\n", st.User.Email, st.User.ID)
	default:
		fmt.Println(string(st.Status))
	}
}

func mustParse(fs *flag.FlagSet) {
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}
