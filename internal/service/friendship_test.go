package service

import (
	"errors"
	"testing"

	"chathub/internal/models"
)

func TestFriendship_Request(t *testing.T) {
	gdb := testDB(t)
	alice := mkUser(t, gdb, "alice", 0)
	bob := mkUser(t, gdb, "bob", 0)
	svc := NewFriendshipService(gdb)

	f, err := svc.Request(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if f.Status != models.FriendshipPending {
		t.Errorf("status = %q, want pending", f.Status)
	}

	if _, err := svc.Request(alice.ID, alice.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("Request(self) error = %v, want ErrValidation", err)
	}
	if _, err := svc.Request(alice.ID, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Request(missing receiver) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Request(alice.ID, bob.ID); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Request(duplicate) error = %v, want ErrAlreadyExists", err)
	}
	// the pair is unordered, the mirror request is the same edge
	if _, err := svc.Request(bob.ID, alice.ID); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Request(mirrored) error = %v, want ErrAlreadyExists", err)
	}
}

func TestFriendship_Accept(t *testing.T) {
	gdb := testDB(t)
	alice := mkUser(t, gdb, "alice", 0)
	bob := mkUser(t, gdb, "bob", 0)
	svc := NewFriendshipService(gdb)

	f, err := svc.Request(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	// only the receiver advances pending
	if _, err := svc.Accept(f.ID, alice.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Accept(by sender) error = %v, want ErrInvalidTransition", err)
	}
	accepted, err := svc.Accept(f.ID, bob.ID)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if accepted.Status != models.FriendshipAccepted {
		t.Errorf("status = %q, want accepted", accepted.Status)
	}
	if _, err := svc.Accept(f.ID, bob.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Accept(twice) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Accept(9999, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Accept(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFriendship_Remove(t *testing.T) {
	gdb := testDB(t)
	alice := mkUser(t, gdb, "alice", 0)
	bob := mkUser(t, gdb, "bob", 0)
	eve := mkUser(t, gdb, "eve", 0)
	svc := NewFriendshipService(gdb)

	f, err := svc.Request(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if _, err := svc.Remove(f.ID, eve.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Remove(outsider) error = %v, want ErrForbidden", err)
	}
	removed, err := svc.Remove(f.ID, bob.ID)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed.ID != f.ID {
		t.Errorf("removed id = %d, want %d", removed.ID, f.ID)
	}
	if _, err := svc.Between(alice.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Between() after remove error = %v, want ErrNotFound", err)
	}
	// back to none, a fresh request works again
	if _, err := svc.Request(bob.ID, alice.ID); err != nil {
		t.Errorf("Request() after remove error = %v", err)
	}
}

func TestFriendship_ListFor(t *testing.T) {
	gdb := testDB(t)
	alice := mkUser(t, gdb, "alice", 0)
	bob := mkUser(t, gdb, "bob", 0)
	carol := mkUser(t, gdb, "carol", 0)
	svc := NewFriendshipService(gdb)

	if _, err := svc.Request(alice.ID, bob.ID); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, err := svc.Request(carol.ID, alice.ID); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	list, err := svc.ListFor(alice.ID)
	if err != nil {
		t.Fatalf("ListFor() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListFor(alice) len = %d, want 2", len(list))
	}
	if got := list[0].OtherParty(alice.ID); got != bob.ID {
		t.Errorf("OtherParty = %d, want %d", got, bob.ID)
	}
	list, err = svc.ListFor(bob.ID)
	if err != nil {
		t.Fatalf("ListFor() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListFor(bob) len = %d, want 1", len(list))
	}
}
