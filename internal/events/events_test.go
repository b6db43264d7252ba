package events

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConsoleKeepsLastEntries(t *testing.T) {
	t.Parallel()

	console := NewConsole(3)
	for i := range 5 {
		console.Emit(ComponentSystem, LevelInfo, fmt.Sprintf("msg %d", i))
	}

	entries := console.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "msg 2" || entries[2].Message != "msg 4" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestConsoleClose(t *testing.T) {
	t.Parallel()

	console := NewConsole(0)
	console.Emit(ComponentMerge, LevelSuccess, "before close")
	console.Close()
	console.Emit(ComponentMerge, LevelSuccess, "after close")

	entries := console.Entries()
	if len(entries) != 1 || entries[0].Message != "before close" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	console.Clear()
	if len(console.Entries()) != 0 {
		t.Fatalf("expected no entries after clear")
	}
}

func TestConsoleConcurrentEmit(t *testing.T) {
	t.Parallel()

	console := NewConsole(DefaultConsoleSize)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			console.Emit(ComponentDeploy, LevelInfo, fmt.Sprintf("poll %d", i))
		}(i)
	}
	wg.Wait()

	if len(console.Entries()) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(console.Entries()))
	}
}

func TestConsoleRender(t *testing.T) {
	t.Parallel()

	console := NewConsole(10)
	console.Emit(ComponentScoring, LevelError, "analysis failed")

	out := console.Render()
	if !strings.Contains(out, "[scoring]") || !strings.Contains(out, "analysis failed") {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestZapSink(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(ComponentMerge, LevelWarning, "falling back")
	sink.Emit(ComponentMerge, LevelSuccess, "merged")

	entries := observed.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[1].ContextMap()["component"] != "merge" {
		t.Fatalf("expected component field, got %v", entries[1].ContextMap())
	}
	if entries[1].ContextMap()["event_level"] != "success" {
		t.Fatalf("expected event_level field, got %v", entries[1].ContextMap())
	}
}

func TestMultiSkipsNil(t *testing.T) {
	t.Parallel()

	a := NewConsole(5)
	b := NewConsole(5)
	sink := Multi(a, nil, b)
	sink.Emit(ComponentSystem, LevelInfo, "hello")

	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Fatalf("expected both consoles to receive the event")
	}

	OrNop(nil).Emit(ComponentSystem, LevelInfo, "dropped")
}
