package main

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/letmevibethatforyou/searchkit/inmemory"
)

func TestGenerateCorpus(t *testing.T) {
	vehicles := generateCorpus(rand.New(rand.NewPCG(1, 1)), 50)
	if len(vehicles) != 50 {
		t.Fatalf("expected 50 vehicles, got %d", len(vehicles))
	}

	ids := make(map[string]bool)
	for _, v := range vehicles {
		if ids[v.ID] {
			t.Errorf("duplicate id %s", v.ID)
		}
		ids[v.ID] = true

		models, ok := makes[v.Make]
		if !ok {
			t.Errorf("unknown make %q", v.Make)
		}
		found := false
		for _, m := range models {
			found = found || m == v.Model
		}
		if !found {
			t.Errorf("model %q does not belong to %q", v.Model, v.Make)
		}
		if v.Year < 2015 || v.Year > 2024 {
			t.Errorf("year %d out of range", v.Year)
		}
		if v.Price < 5000 || v.Price >= 65000 {
			t.Errorf("price %v out of range", v.Price)
		}
	}
}

func TestGenerateCorpus_SeedIsDeterministic(t *testing.T) {
	a := generateCorpus(rand.New(rand.NewPCG(7, 7)), 10)
	b := generateCorpus(rand.New(rand.NewPCG(7, 7)), 10)
	for i := range a {
		a[i].ID, b[i].ID = "", ""
		if a[i] != b[i] {
			t.Errorf("vehicle %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestWriteCorpus_LoadsIntoInMemoryStore(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCorpus(&buf, generateCorpus(rand.New(rand.NewPCG(3, 3)), 20)); err != nil {
		t.Fatalf("writeCorpus failed: %v", err)
	}

	store := inmemory.New()
	n, err := store.LoadJSON(buf.Bytes())
	if err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}
	if n != 20 || store.Size() != 20 {
		t.Errorf("expected 20 documents, got n=%d size=%d", n, store.Size())
	}
}
