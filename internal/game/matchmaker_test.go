package game

import (
	"errors"
	"sync"
	"testing"

	"rally/pkg/types"
)

func TestFindOrCreateNewGame(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)

	snap, joined := mm.FindOrCreate(testPlayer("p1", "alice"))
	if joined {
		t.Error("creating a fresh game must report joined=false")
	}
	if snap.Status != types.StatusWaiting {
		t.Errorf("expected WAITING, got %s", snap.Status)
	}
	if snap.Player1.ID != "p1" || snap.Player2 != nil {
		t.Errorf("expected p1 alone, got %+v", snap)
	}
}

func TestFindOrCreateFillsWaitingSlot(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)

	created, _ := mm.FindOrCreate(testPlayer("p1", "alice"))
	snap, joined := mm.FindOrCreate(testPlayer("p2", "bob"))

	if !joined {
		t.Error("filling a waiting slot must report joined=true")
	}
	if snap.ID != created.ID {
		t.Errorf("expected to join game %s, got %s", created.ID, snap.ID)
	}
	if snap.Status != types.StatusPlaying {
		t.Errorf("expected PLAYING after slot fill, got %s", snap.Status)
	}
	if snap.Player2 == nil || snap.Player2.ID != "p2" {
		t.Errorf("expected p2 as second occupant, got %+v", snap.Player2)
	}
	if snap.StartedAt == nil {
		t.Error("expected startedAt to be set when the game starts")
	}
}

func TestFindOrCreateIdempotentReentry(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)

	tests := []struct {
		name  string
		setup func(t *testing.T) (reentrant types.Player, gameID string)
	}{
		{
			name: "owner of waiting game",
			setup: func(t *testing.T) (types.Player, string) {
				p := testPlayer("w1", "alice")
				snap, _ := mm.FindOrCreate(p)
				return p, snap.ID
			},
		},
		{
			name: "first occupant of playing game",
			setup: func(t *testing.T) (types.Player, string) {
				p := testPlayer("a1", "carol")
				snap, _ := mm.FindOrCreate(p)
				if _, err := mm.Join(snap.ID, testPlayer("a2", "dave")); err != nil {
					t.Fatalf("setup join failed: %v", err)
				}
				return p, snap.ID
			},
		},
		{
			name: "second occupant of playing game",
			setup: func(t *testing.T) (types.Player, string) {
				snap, _ := mm.FindOrCreate(testPlayer("b1", "erin"))
				p := testPlayer("b2", "frank")
				if _, err := mm.Join(snap.ID, p); err != nil {
					t.Fatalf("setup join failed: %v", err)
				}
				return p, snap.ID
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player, gameID := tt.setup(t)
			snap, joined := mm.FindOrCreate(player)
			if !joined {
				t.Error("re-entry must report joined=true")
			}
			if snap.ID != gameID {
				t.Errorf("expected existing game %s, got %s", gameID, snap.ID)
			}
		})
	}
}

func TestFindOrCreateSkipsFinishedGames(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)

	old, _ := mm.FindOrCreate(testPlayer("p1", "alice"))
	if _, err := mm.Join(old.ID, testPlayer("p2", "bob")); err != nil {
		t.Fatalf("setup join failed: %v", err)
	}
	if _, ok := store.UpdateScore(old.ID, 10, 0); !ok {
		t.Fatal("setup score update failed")
	}

	// Both former occupants are free again; the finished game (still in
	// the grace window) must not be matched or re-entered.
	snap, joined := mm.FindOrCreate(testPlayer("p1", "alice"))
	if joined {
		t.Error("expected a new game, not re-entry into a finished one")
	}
	if snap.ID == old.ID {
		t.Error("matched into a finished game")
	}

	snap2, joined2 := mm.FindOrCreate(testPlayer("p2", "bob"))
	if !joined2 || snap2.ID != snap.ID {
		t.Errorf("expected p2 to fill p1's new game, got joined=%t game=%s", joined2, snap2.ID)
	}
}

func TestJoinErrors(t *testing.T) {
	newPlaying := func(t *testing.T, mm *Matchmaker, id1, id2 string) string {
		t.Helper()
		snap, _ := mm.FindOrCreate(testPlayer(id1, id1))
		if _, err := mm.Join(snap.ID, testPlayer(id2, id2)); err != nil {
			t.Fatalf("setup join failed: %v", err)
		}
		return snap.ID
	}

	tests := []struct {
		name    string
		setup   func(t *testing.T, store *Store, mm *Matchmaker) (gameID string, joiner types.Player)
		wantErr error
	}{
		{
			name: "unknown game",
			setup: func(t *testing.T, store *Store, mm *Matchmaker) (string, types.Player) {
				return "no-such-game", testPlayer("p9", "zoe")
			},
			wantErr: ErrNotFound,
		},
		{
			name: "joining own game",
			setup: func(t *testing.T, store *Store, mm *Matchmaker) (string, types.Player) {
				snap, _ := mm.FindOrCreate(testPlayer("p1", "alice"))
				return snap.ID, testPlayer("p1", "alice")
			},
			wantErr: ErrSelfJoin,
		},
		{
			name: "both slots taken",
			setup: func(t *testing.T, store *Store, mm *Matchmaker) (string, types.Player) {
				id := newPlaying(t, mm, "p1", "p2")
				return id, testPlayer("p3", "carol")
			},
			wantErr: ErrAlreadyOccupied,
		},
		{
			name: "joiner already in another live game",
			setup: func(t *testing.T, store *Store, mm *Matchmaker) (string, types.Player) {
				newPlaying(t, mm, "p1", "p2")
				target, _ := mm.FindOrCreate(testPlayer("p3", "carol"))
				return target.ID, testPlayer("p1", "p1")
			},
			wantErr: ErrAlreadyInGame,
		},
		{
			name: "finished game reads as missing",
			setup: func(t *testing.T, store *Store, mm *Matchmaker) (string, types.Player) {
				id := newPlaying(t, mm, "p1", "p2")
				if _, ok := store.UpdateScore(id, 0, 10); !ok {
					t.Fatal("setup score update failed")
				}
				return id, testPlayer("p3", "carol")
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore()
			mm := NewMatchmaker(store)
			gameID, joiner := tt.setup(t, store, mm)

			_, err := mm.Join(gameID, joiner)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConcurrentFindOrCreatePairsEveryone(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)

	// An even number of players arriving at once must end up in exactly
	// n/2 games with every slot filled and nobody double-booked.
	const players = 20

	var wg sync.WaitGroup
	results := make([]types.GameSnapshot, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := testPlayer(string(rune('A'+n)), "player")
			results[n], _ = mm.FindOrCreate(p)
		}(i)
	}
	wg.Wait()

	games := store.ListActive()
	if len(games) != players/2 {
		t.Fatalf("expected %d games, got %d", players/2, len(games))
	}

	occupancy := make(map[string]int)
	for _, snap := range games {
		if snap.Status != types.StatusPlaying || snap.Player2 == nil {
			t.Errorf("game %s left unfilled: status=%s", snap.ID, snap.Status)
		}
		occupancy[snap.Player1.ID]++
		if snap.Player2 != nil {
			occupancy[snap.Player2.ID]++
		}
	}
	for id, count := range occupancy {
		if count != 1 {
			t.Errorf("player %s occupies %d games", id, count)
		}
	}
}

func TestConcurrentJoinSingleWinner(t *testing.T) {
	store := NewStore()
	mm := NewMatchmaker(store)
	created, _ := mm.FindOrCreate(testPlayer("host", "host"))

	// Many players race for the one open slot; exactly one join succeeds.
	const racers = 10

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := testPlayer(string(rune('a'+n)), "racer")
			_, errs[n] = mm.Join(created.ID, p)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyOccupied):
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 successful join, got %d", winners)
	}

	snap, _ := store.Get(created.ID)
	if snap.Status != types.StatusPlaying {
		t.Errorf("expected PLAYING after the race, got %s", snap.Status)
	}
}
