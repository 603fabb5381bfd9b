package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/sim"
	"github.com/gorilla/websocket"
)

func body(cs ...Coord) []Coord { return cs }

// testGame: "a" goes straight up then turns right. "b" goes straight down
// and runs into the bottom wall on the second move.
func testGame() Game {
	return Game{
		ID: "g1",
		Frames: []Frame{
			{
				Turn:  0,
				Board: BoardData{Width: 7, Height: 7},
				Food:  []Coord{{X: 0, Y: 6}},
				Snakes: []SnakeData{
					{ID: "a", Health: 100, Body: body(Coord{3, 3}, Coord{3, 2}, Coord{3, 1})},
					{ID: "b", Health: 100, Body: body(Coord{5, 1}, Coord{5, 2}, Coord{5, 3})},
				},
			},
			{
				Turn:  1,
				Board: BoardData{Width: 7, Height: 7},
				Food:  []Coord{{X: 0, Y: 6}},
				Snakes: []SnakeData{
					{ID: "a", Health: 99, Body: body(Coord{3, 4}, Coord{3, 3}, Coord{3, 2})},
					{ID: "b", Health: 99, Body: body(Coord{5, 0}, Coord{5, 1}, Coord{5, 2})},
				},
			},
			{
				Turn:  2,
				Board: BoardData{Width: 7, Height: 7},
				Food:  []Coord{{X: 0, Y: 6}},
				Snakes: []SnakeData{
					{ID: "a", Health: 98, Body: body(Coord{4, 4}, Coord{3, 4}, Coord{3, 3})},
					{ID: "b", Health: 98, Body: body(Coord{5, -1}, Coord{5, 0}, Coord{5, 1}), Death: &Death{Cause: "wall-collision", Turn: 2}},
				},
			},
		},
	}
}

// straightDecider always goes straight and remembers what it was asked.
type straightDecider struct {
	asked  [][]sim.SnakeRef
	snakes []int
	resets int
}

func (d *straightDecider) SelectMoves(_ context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error) {
	d.asked = append(d.asked, ids)
	for _, g := range games {
		d.snakes = append(d.snakes, len(g.Snakes()))
	}
	out := make([]int, len(ids))
	for i := range out {
		out[i] = game.Straight
	}
	return out, nil
}

func (d *straightDecider) TrainingSamples() []mcts.Sample { return nil }
func (d *straightDecider) Reset()                         { d.resets++ }

func TestEvaluate_AllSnakes(t *testing.T) {
	d := &straightDecider{}
	rep, err := Evaluate(context.Background(), d, testGame())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Decisions != 4 || rep.Agreed != 3 || rep.Skipped != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Confusion[game.TurnRight][game.Straight] != 1 {
		t.Fatalf("confusion=%v", rep.Confusion)
	}
	if got := rep.Rate(); got != 0.75 {
		t.Fatalf("rate=%v", got)
	}
	if d.resets != 2 {
		t.Fatalf("resets=%d, want one per decision turn", d.resets)
	}
}

func TestEvaluate_SingleSnake(t *testing.T) {
	d := &straightDecider{}
	rep, err := Evaluate(context.Background(), d, testGame(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Decisions != 2 || rep.Agreed != 1 {
		t.Fatalf("report=%+v", rep)
	}
	for _, ids := range d.asked {
		if len(ids) != 1 || ids[0].SnakeID != "a" {
			t.Fatalf("asked %v", ids)
		}
	}
	// The full board is still simulated.
	for _, n := range d.snakes {
		if n != 2 {
			t.Fatalf("game had %d snakes", n)
		}
	}
}

func TestEvaluate_SkipsBackwardsFirstMove(t *testing.T) {
	g := Game{
		ID: "stacked",
		Frames: []Frame{
			{Board: BoardData{Width: 7, Height: 7}, Snakes: []SnakeData{{ID: "a", Health: 100, Body: body(Coord{3, 3}, Coord{3, 3}, Coord{3, 3})}}},
			{Turn: 1, Board: BoardData{Width: 7, Height: 7}, Snakes: []SnakeData{{ID: "a", Health: 99, Body: body(Coord{3, 2}, Coord{3, 3}, Coord{3, 3})}}},
		},
	}
	d := &straightDecider{}
	rep, err := Evaluate(context.Background(), d, g)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 1 || rep.Decisions != 0 || len(d.asked) != 0 {
		t.Fatalf("report=%+v asked=%v", rep, d.asked)
	}
}

func TestGame_StateDropsDeadSnakes(t *testing.T) {
	state := testGame().State(2)
	if len(state.Snakes) != 1 || state.Snakes[0].Id != "a" {
		t.Fatalf("snakes=%+v", state.Snakes)
	}
	if state.Width != 7 || state.Height != 7 || state.Turn != 2 {
		t.Fatalf("state=%+v", state)
	}
}

func TestGame_SizeFallback(t *testing.T) {
	g := Game{Frames: []Frame{{}}}
	if w, h := g.Size(); w != 11 || h != 11 {
		t.Fatalf("size=%dx%d", w, h)
	}
	g.Info.Game.Width, g.Info.Game.Height = 19, 19
	if w, h := g.Size(); w != 19 || h != 19 {
		t.Fatalf("size=%dx%d", w, h)
	}
}

// engineServer streams events over a websocket the way the engine does.
func engineServer(t *testing.T, handle func(conn *websocket.Conn)) Config {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/games/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.EngineURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/games/%s/events"
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

func sendEvent(conn *websocket.Conn, typ string, data any) error {
	return conn.WriteJSON(map[string]any{"type": typ, "data": data})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDownloader_Download(t *testing.T) {
	want := testGame()
	cfg := engineServer(t, func(conn *websocket.Conn) {
		_ = sendEvent(conn, "game_info", GameInfo{Game: GameDetails{ID: "g1", Timeout: 500}, Ruleset: RulesetInfo{Name: "standard"}})
		for _, f := range want.Frames {
			_ = sendEvent(conn, "frame", f)
		}
		_ = sendEvent(conn, "game_end", map[string]any{})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	got, err := NewDownloader(cfg, quietLogger()).Download(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "g1" || got.Info.Ruleset.Name != "standard" {
		t.Fatalf("game=%+v", got.Info)
	}
	if len(got.Frames) != 3 || got.Frames[2].Turn != 2 {
		t.Fatalf("frames=%d", len(got.Frames))
	}
	if got.Winner != "a" {
		t.Fatalf("winner=%q", got.Winner)
	}
	if got.Frames[2].Snakes[1].Death == nil {
		t.Fatal("death lost in transit")
	}
}

func TestDownloader_KeepsFramesOnAbruptClose(t *testing.T) {
	frames := testGame().Frames
	cfg := engineServer(t, func(conn *websocket.Conn) {
		_ = sendEvent(conn, "frame", frames[0])
		_ = sendEvent(conn, "frame", frames[1])
		_ = conn.UnderlyingConn().Close()
	})

	got, err := NewDownloader(cfg, quietLogger()).Download(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Frames) != 2 || got.Winner != "draw" {
		t.Fatalf("frames=%d winner=%q", len(got.Frames), got.Winner)
	}
}

func TestDownloader_NoFrames(t *testing.T) {
	cfg := engineServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	if _, err := NewDownloader(cfg, quietLogger()).Download(context.Background(), "g1"); err == nil {
		t.Fatal("expected an error for an empty stream")
	}
}

func TestDownloader_Cancelled(t *testing.T) {
	release := make(chan struct{})
	cfg := engineServer(t, func(conn *websocket.Conn) {
		_ = sendEvent(conn, "frame", testGame().Frames[0])
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewDownloader(cfg, quietLogger()).Download(ctx, "g1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

const leaderboardPage = `<html><body>
<a href="/game/0a1b2c3d-0000-4000-8000-000000000001">game</a>
<a href="https://play.battlesnake.com/game/0a1b2c3d-0000-4000-8000-000000000002">game</a>
<a href="/game/0a1b2c3d-0000-4000-8000-000000000001">again</a>
<a href="/leaderboard/standard/someone/stats">player</a>
</body></html>`

func TestDiscover(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, leaderboardPage)
	}))
	defer ts.Close()

	ids, err := Discover(context.Background(), ts.Client(), ts.URL+"/stats")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"0a1b2c3d-0000-4000-8000-000000000001", "0a1b2c3d-0000-4000-8000-000000000002"}
	if len(ids) != len(want) {
		t.Fatalf("ids=%v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids=%v", ids)
		}
	}

	if _, err := Discover(context.Background(), ts.Client(), ts.URL+"/missing"); err == nil {
		t.Fatal("expected an error for a 404")
	}
}

func TestReport_Add(t *testing.T) {
	var total Report
	total.Add(Report{Decisions: 2, Agreed: 1})
	total.Add(Report{Decisions: 2, Agreed: 2, Skipped: 1})
	if total.Decisions != 4 || total.Agreed != 3 || total.Skipped != 1 {
		t.Fatalf("total=%+v", total)
	}
}
