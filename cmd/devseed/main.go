// Command devseed builds an in-memory demo tree and prints the
// effective permissions a few representative users resolve to. Handy
// for eyeballing resolver behavior without a database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/access"
	"skyvault.org/internal/items"
	"skyvault.org/internal/users"
)

func main() {
	ctx := context.Background()

	userStore := users.NewMemoryStore()
	itemStore := items.NewMemoryStore()
	grantStore := access.NewMemoryStore()

	itemService := items.NewService(itemStore)
	resolver := access.NewResolver(itemStore, grantStore)
	sharing := access.NewSharing(resolver, grantStore, userStore)

	alice := mustUser(ctx, userStore, "alice@example.com")
	bob := mustUser(ctx, userStore, "bob@example.com")
	carol := mustUser(ctx, userStore, "carol@example.com")

	root := mustItem(ctx, itemService, alice, nil, "projects", items.KindFolder)
	docs := mustItem(ctx, itemService, alice, &root.ID, "docs", items.KindFolder)
	report := mustItem(ctx, itemService, alice, &docs.ID, "report.txt", items.KindFile)

	outcomes, err := sharing.SharePrivately(ctx, alice, root.ID, access.Editor, []uuid.UUID{bob})
	check(err)
	fmt.Printf("share %s with bob: %s\n", root.Name, outcomes[0].Status)

	linkResult, err := sharing.PublishLink(ctx, alice, docs.ID, access.Viewer, "", nil)
	check(err)
	fmt.Printf("published link %s: %s\n", linkResult.LinkID, linkResult.Message)

	expiry := time.Now().Add(-time.Hour)
	_, err = sharing.PublishLink(ctx, alice, report.ID, access.Viewer, "", &expiry)
	check(err)

	show(ctx, resolver, "alice on report", report.ID, alice)
	show(ctx, resolver, "bob on report (inherited editor)", report.ID, bob)
	show(ctx, resolver, "carol on report (expired link on file, live link on docs)", report.ID, carol)
	show(ctx, resolver, "anonymous on docs (live link)", docs.ID, uuid.Nil)
	show(ctx, resolver, "anonymous on root (no link)", root.ID, uuid.Nil)
}

func show(ctx context.Context, resolver *access.Resolver, label string, itemID, userID uuid.UUID) {
	perm, err := resolver.Resolve(ctx, itemID, userID)
	check(err)
	fmt.Printf("%-60s %s\n", label, perm)
}

func mustUser(ctx context.Context, store users.Store, email string) uuid.UUID {
	hash, err := users.HashPassword("password123")
	check(err)
	u := &users.User{Email: email, PasswordHash: hash, Status: users.StatusActive}
	check(store.Create(ctx, u))
	return u.ID
}

func mustItem(ctx context.Context, svc *items.Service, owner uuid.UUID, parent *uuid.UUID, name string, kind items.Kind) *items.Item {
	item, err := svc.Create(ctx, owner, parent, name, kind)
	check(err)
	return item
}

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "devseed:", err)
		os.Exit(1)
	}
}
