// Package storagetest holds behavior tests shared by every storage.Engine.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/yndnr/sabledb-go/internal/storage"
)

// Run exercises the Engine contract against engines built by newEngine.
// Each subtest gets a fresh engine.
func Run(t *testing.T, newEngine func(t *testing.T) storage.Engine) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e storage.Engine)
	}{
		{"Strings", testStrings},
		{"SetOptions", testSetOptions},
		{"IncrBy", testIncrBy},
		{"Expiry", testExpiry},
		{"Lists", testLists},
		{"WrongType", testWrongType},
		{"Keyspace", testKeyspace},
		{"Scan", testScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newEngine(t))
		})
	}
}

func testStrings(t *testing.T, e storage.Engine) {
	ctx := context.Background()

	if _, err := e.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	buf := []byte("value")
	if ok, err := e.Set(ctx, "k", buf, storage.SetOptions{}); err != nil || !ok {
		t.Fatalf("Set() = %v, %v", ok, err)
	}
	buf[0] = 'X'

	got, err := e.Get(ctx, "k")
	if err != nil || string(got) != "value" {
		t.Errorf("Get() = %q, %v, want %q (engine must copy input)", got, err, "value")
	}

	if typ, _ := e.Type(ctx, "k"); typ != storage.TypeString {
		t.Errorf("Type() = %q, want string", typ)
	}
	if typ, _ := e.Type(ctx, "missing"); typ != storage.TypeNone {
		t.Errorf("Type(missing) = %q, want none", typ)
	}

	if n, _ := e.Exists(ctx, "k", "k", "missing"); n != 2 {
		t.Errorf("Exists(k, k, missing) = %d, want 2", n)
	}
	if n, _ := e.Delete(ctx, "k", "missing"); n != 1 {
		t.Errorf("Delete() = %d, want 1", n)
	}
	if n, _ := e.Exists(ctx, "k"); n != 0 {
		t.Errorf("Exists after Delete = %d, want 0", n)
	}
}

func testSetOptions(t *testing.T, e storage.Engine) {
	ctx := context.Background()

	if ok, _ := e.Set(ctx, "k", []byte("a"), storage.SetOptions{XX: true}); ok {
		t.Error("Set XX on missing key should not apply")
	}
	if ok, _ := e.Set(ctx, "k", []byte("a"), storage.SetOptions{NX: true}); !ok {
		t.Error("Set NX on missing key should apply")
	}
	if ok, _ := e.Set(ctx, "k", []byte("b"), storage.SetOptions{NX: true}); ok {
		t.Error("Set NX on existing key should not apply")
	}
	if ok, _ := e.Set(ctx, "k", []byte("c"), storage.SetOptions{XX: true, TTL: time.Hour}); !ok {
		t.Error("Set XX on existing key should apply")
	}
	if got, _ := e.Get(ctx, "k"); string(got) != "c" {
		t.Errorf("Get() = %q, want c", got)
	}
	if ttl, _ := e.TTL(ctx, "k"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL() = %v, want (0, 1h]", ttl)
	}

	// A plain Set clears the TTL.
	e.Set(ctx, "k", []byte("d"), storage.SetOptions{})
	if ttl, _ := e.TTL(ctx, "k"); ttl != storage.NoExpiry {
		t.Errorf("TTL() after plain Set = %v, want NoExpiry", ttl)
	}
}

func testIncrBy(t *testing.T, e storage.Engine) {
	ctx := context.Background()

	if n, err := e.IncrBy(ctx, "n", 5); err != nil || n != 5 {
		t.Errorf("IncrBy(missing, 5) = %d, %v", n, err)
	}
	if n, err := e.IncrBy(ctx, "n", -7); err != nil || n != -2 {
		t.Errorf("IncrBy(n, -7) = %d, %v", n, err)
	}
	if got, _ := e.Get(ctx, "n"); string(got) != "-2" {
		t.Errorf("Get(n) = %q, want -2", got)
	}

	e.Set(ctx, "s", []byte("abc"), storage.SetOptions{})
	if _, err := e.IncrBy(ctx, "s", 1); !errors.Is(err, storage.ErrNotInteger) {
		t.Errorf("IncrBy(non-integer) error = %v, want ErrNotInteger", err)
	}

	e.Set(ctx, "max", []byte("9223372036854775807"), storage.SetOptions{})
	if _, err := e.IncrBy(ctx, "max", 1); !errors.Is(err, storage.ErrNotInteger) {
		t.Errorf("IncrBy(overflow) error = %v, want ErrNotInteger", err)
	}
}

func testExpiry(t *testing.T, e storage.Engine) {
	ctx := context.Background()

	if _, err := e.TTL(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("TTL(missing) error = %v, want ErrNotFound", err)
	}
	if ok, _ := e.Expire(ctx, "missing", time.Second); ok {
		t.Error("Expire(missing) should report false")
	}

	e.Set(ctx, "k", []byte("v"), storage.SetOptions{})
	if ttl, _ := e.TTL(ctx, "k"); ttl != storage.NoExpiry {
		t.Errorf("TTL() = %v, want NoExpiry", ttl)
	}

	if ok, _ := e.Expire(ctx, "k", 1100*time.Millisecond); !ok {
		t.Fatal("Expire(k) should report true")
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := e.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrNotFound", err)
	}

	e.Set(ctx, "gone", []byte("v"), storage.SetOptions{})
	if ok, _ := e.Expire(ctx, "gone", 0); !ok {
		t.Error("Expire(gone, 0) should report true")
	}
	if n, _ := e.Exists(ctx, "gone"); n != 0 {
		t.Error("Expire with non-positive TTL should delete the key")
	}
}

func testLists(t *testing.T, e storage.Engine) {
	ctx := context.Background()

	if n, _ := e.Len(ctx, "l"); n != 0 {
		t.Errorf("Len(missing) = %d, want 0", n)
	}
	if _, err := e.Pop(ctx, "l", storage.Head, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Pop(missing) error = %v, want ErrNotFound", err)
	}

	if n, _ := e.Push(ctx, "l", storage.Tail, []byte("b"), []byte("c")); n != 2 {
		t.Errorf("Push(tail) = %d, want 2", n)
	}
	if n, _ := e.Push(ctx, "l", storage.Head, []byte("a")); n != 3 {
		t.Errorf("Push(head) = %d, want 3", n)
	}
	if typ, _ := e.Type(ctx, "l"); typ != storage.TypeList {
		t.Errorf("Type() = %q, want list", typ)
	}

	ranges := []struct {
		start, stop int
		want        string
	}{
		{0, -1, "abc"},
		{1, 1, "b"},
		{-2, -1, "bc"},
		{0, 100, "abc"},
		{2, 1, ""},
		{5, 10, ""},
	}
	for _, r := range ranges {
		got, err := e.Range(ctx, "l", r.start, r.stop)
		if err != nil {
			t.Fatalf("Range(%d, %d) error = %v", r.start, r.stop, err)
		}
		if s := join(got); s != r.want {
			t.Errorf("Range(%d, %d) = %q, want %q", r.start, r.stop, s, r.want)
		}
	}

	got, _ := e.Pop(ctx, "l", storage.Tail, 1)
	if join(got) != "c" {
		t.Errorf("Pop(tail) = %q, want c", join(got))
	}
	got, _ = e.Pop(ctx, "l", storage.Head, 5)
	if join(got) != "ab" {
		t.Errorf("Pop(head, 5) = %q, want ab", join(got))
	}
	if n, _ := e.Exists(ctx, "l"); n != 0 {
		t.Error("an emptied list should be deleted")
	}

	// FIFO across many pushes.
	for i := 0; i < 100; i++ {
		e.Push(ctx, "q", storage.Tail, []byte(fmt.Sprint(i)))
	}
	for i := 0; i < 100; i++ {
		v, err := e.Pop(ctx, "q", storage.Head, 1)
		if err != nil || string(v[0]) != fmt.Sprint(i) {
			t.Fatalf("Pop #%d = %q, %v", i, v, err)
		}
	}
}

func testWrongType(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	e.Set(ctx, "s", []byte("v"), storage.SetOptions{})
	e.Push(ctx, "l", storage.Tail, []byte("x"))

	checks := []struct {
		name string
		err  error
	}{
		{"Get(list)", second(e.Get(ctx, "l"))},
		{"IncrBy(list)", second(e.IncrBy(ctx, "l", 1))},
		{"Push(string)", second(e.Push(ctx, "s", storage.Tail, []byte("y")))},
		{"Pop(string)", second(e.Pop(ctx, "s", storage.Head, 1))},
		{"Len(string)", second(e.Len(ctx, "s"))},
		{"Range(string)", second(e.Range(ctx, "s", 0, -1))},
	}
	for _, c := range checks {
		if !errors.Is(c.err, storage.ErrWrongType) {
			t.Errorf("%s error = %v, want ErrWrongType", c.name, c.err)
		}
	}

	// Set replaces any type.
	if ok, err := e.Set(ctx, "l", []byte("now a string"), storage.SetOptions{}); !ok || err != nil {
		t.Errorf("Set over list = %v, %v", ok, err)
	}
}

func testKeyspace(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		e.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), storage.SetOptions{})
	}
	if n, _ := e.Count(ctx); n != 10 {
		t.Errorf("Count() = %d, want 10", n)
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n, _ := e.Count(ctx); n != 0 {
		t.Errorf("Count() after Flush = %d, want 0", n)
	}
}

func testScan(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	want := map[string]bool{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("user:%d", i)
		want[k] = true
		e.Set(ctx, k, []byte("v"), storage.SetOptions{})
		e.Set(ctx, fmt.Sprintf("other:%d", i), []byte("v"), storage.SetOptions{})
	}

	seen := map[string]bool{}
	var cursor uint64
	for rounds := 0; ; rounds++ {
		if rounds > 1000 {
			t.Fatal("Scan did not terminate")
		}
		next, keys, err := e.Scan(ctx, cursor, "user:*", 7)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		for _, k := range keys {
			seen[k] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	if len(seen) != len(want) {
		var got []string
		for k := range seen {
			got = append(got, k)
		}
		sort.Strings(got)
		t.Errorf("Scan saw %d keys, want %d: %v", len(seen), len(want), got)
	}
	for k := range seen {
		if !want[k] {
			t.Errorf("Scan returned non-matching key %q", k)
		}
	}
}

func join(vals [][]byte) string {
	var s string
	for _, v := range vals {
		s += string(v)
	}
	return s
}

func second[T any](_ T, err error) error { return err }
