package consoleclient

import (
	"sync"
	"testing"

	"scholaris/console/internal/model"
)

func TestStorePairIsAtomic(t *testing.T) {
	store := NewStore(nil)
	store.Login(model.UserProfile{ID: "u1", Role: model.RoleAdmin}, "tok-1")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			user, token, ok := store.Current()
			if !ok {
				continue
			}
			// Readers see the old pair or the new pair in full, never the
			// user from one paired with the token of the other.
			if user.ID == "u1" && token != "tok-1" {
				t.Errorf("torn read: user=%s token=%s", user.ID, token)
				return
			}
			if user.ID == "u2" && token != "tok-2" {
				t.Errorf("torn read: user=%s token=%s", user.ID, token)
				return
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		store.Login(model.UserProfile{ID: "u1", Role: model.RoleAdmin}, "tok-1")
		store.Login(model.UserProfile{ID: "u2", Role: model.RoleTeacher}, "tok-2")
	}
	close(stop)
	wg.Wait()
}

func TestStoreLoginLogout(t *testing.T) {
	store := NewStore(nil)
	store.Login(model.UserProfile{ID: "u1", Role: model.RoleAdmin}, "tok-1")
	store.Login(model.UserProfile{ID: "u2", Role: model.RoleParent}, "tok-2")

	user, ok := store.CurrentUser()
	if !ok || user.ID != "u2" || store.Token() != "tok-2" {
		t.Fatalf("expected second pair, got %+v token=%s", user, store.Token())
	}

	store.Logout()
	if _, ok := store.CurrentUser(); ok {
		t.Fatalf("expected no user after logout")
	}
	if store.Token() != "" {
		t.Fatalf("expected no token after logout")
	}
}

func TestStoreLoadingLifecycle(t *testing.T) {
	store := NewStore(nil)
	if !store.Loading() {
		t.Fatalf("expected loading before bootstrap")
	}
	store.markLoaded()
	if store.Loading() {
		t.Fatalf("expected loaded after bootstrap")
	}
	// Login before bootstrap completes also resolves loading.
	store = NewStore(nil)
	store.Login(model.UserProfile{ID: "u1", Role: model.RoleAdmin}, "tok")
	if store.Loading() {
		t.Fatalf("expected login to resolve loading")
	}
}

func TestFileKeeperRoundTrip(t *testing.T) {
	keeper := FileKeeper{Dir: t.TempDir()}

	token, err := keeper.Read()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected absent token, got %q", token)
	}

	if err := keeper.Write("tok-1"); err != nil {
		t.Fatalf("write error: %v", err)
	}
	token, err = keeper.Read()
	if err != nil || token != "tok-1" {
		t.Fatalf("expected tok-1, got %q err=%v", token, err)
	}

	if err := keeper.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if err := keeper.Clear(); err != nil {
		t.Fatalf("second clear error: %v", err)
	}
	token, _ = keeper.Read()
	if token != "" {
		t.Fatalf("expected cleared token, got %q", token)
	}
}
