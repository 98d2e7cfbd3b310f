package main

import (
	"context"
	"testing"

	"telbill/internal/testsupport"
)

func TestRegistrationAddAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env,
		"registration", "add",
		"--name", "acct-main",
		"--operator", "vivo",
		"--unit", "HQ",
		"--tax-id", "12.345.678/0001-00",
	)
	if err != nil {
		t.Fatalf("registration add: %v", err)
	}
	requireContains(t, out, "VIVO acct-main")

	out, err = runCLI(t, env, "registration", "list")
	if err != nil {
		t.Fatalf("registration list: %v", err)
	}
	requireContains(t, out, "acct-main")
	requireContains(t, out, "12.***.***/0001-00")
}

func TestRegistrationAddRequiresIdentityFields(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "registration", "add", "--name", "acct"); err == nil {
		t.Fatal("expected error without --operator and --tax-id")
	}
}

func TestRegistrationDeactivateHidesFromDefaultList(t *testing.T) {
	env := setupCLITestEnv(t)
	reg := testsupport.NewRegistration(t, env.store, "acct-old", "OI")

	if _, err := runCLI(t, env, "registration", "deactivate", reg.Hash); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	out, err := runCLI(t, env, "registration", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "No registrations found\n" {
		t.Fatalf("deactivated registration still listed:\n%s", out)
	}

	out, err = runCLI(t, env, "registration", "list", "--all")
	if err != nil {
		t.Fatalf("list --all: %v", err)
	}
	requireContains(t, out, "acct-old")
	requireContains(t, out, "no")
}

func TestRegistrationRekeyMigratesPeriod(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	reg := testsupport.NewRegistration(t, env.store, "acct-rename", "CLARO")
	proc := testsupport.NewProcess(t, env.store, reg.Hash, "2026-08")

	out, err := runCLI(t, env,
		"registration", "rekey", reg.Hash,
		"--name", "acct-renamed",
		"--period", "2026-08",
	)
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	requireContains(t, out, "rekeyed")

	if _, err := env.store.GetRegistration(ctx, reg.Hash); err == nil {
		t.Fatal("old hash should no longer resolve")
	}
	migrated, err := env.store.GetProcess(ctx, proc.ID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if migrated.RegistrationHash == reg.Hash {
		t.Fatal("process was not migrated to the new hash")
	}
	updated, err := env.store.GetRegistration(ctx, migrated.RegistrationHash)
	if err != nil {
		t.Fatalf("get rekeyed registration: %v", err)
	}
	if updated.FilterName != "acct-renamed" {
		t.Fatalf("filter name = %q", updated.FilterName)
	}
	if updated.AliasHash != reg.Hash {
		t.Fatalf("alias hash = %q, want %q", updated.AliasHash, reg.Hash)
	}
}

func TestRegistrationRekeyUnchangedIdentityIsNoop(t *testing.T) {
	env := setupCLITestEnv(t)
	reg := testsupport.NewRegistration(t, env.store, "acct-same", "TIM")

	out, err := runCLI(t, env, "registration", "rekey", reg.Hash, "--period", "2026-08")
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	requireContains(t, out, "nothing to migrate")

	if _, err := env.store.GetRegistration(context.Background(), reg.Hash); err != nil {
		t.Fatalf("registration should be untouched: %v", err)
	}
}
