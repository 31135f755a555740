package resource

import (
	"testing"
	"time"
)

func TestAddTempObjectRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.AddTempObject("t1", TempTable, OnCommitKeep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.AddTempObject("t1", TempTable, OnCommitKeep); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestAddTempObjectDuplicateCodeByKind(t *testing.T) {
	if duplicateCodeFor(TempIndex) == duplicateCodeFor(TempTable) {
		t.Fatal("expected a distinct error code for indexes vs tables")
	}
	if duplicateCodeFor(TempConstraint) == duplicateCodeFor(TempTable) {
		t.Fatal("expected a distinct error code for constraints vs tables")
	}
}

func TestGetTempObjectOnEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.GetTempObject("missing"); ok {
		t.Fatal("expected not found on a never-written registry")
	}
}

func TestTemporaryResultsBoundedAt100(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 150; i++ {
		r.AddTemporaryResult(i)
	}
	if got := len(r.TemporaryResults()); got != maxTemporaryResults {
		t.Fatalf("expected %d temporary results retained, got %d", maxTemporaryResults, got)
	}
	r.ClearTemporaryResults()
	if got := len(r.TemporaryResults()); got != 0 {
		t.Fatalf("expected empty set after clear, got %d", got)
	}
}

func TestLinkAndUnlinkLOBs(t *testing.T) {
	r := NewRegistry()
	r.LinkLOBForUnlink("lob-1", "payload-1")
	r.LinkLOBForUnlink("lob-2", "payload-2")

	set := r.UnlinkLOBs()
	if len(set) != 2 {
		t.Fatalf("expected 2 linked LOBs, got %d", len(set))
	}
	if got := r.UnlinkLOBs(); len(got) != 0 {
		t.Fatal("expected unlink set cleared after first drain")
	}
}

func TestCursorLifecycle(t *testing.T) {
	r := NewRegistry()
	id := r.PutCursor("payload", 0)
	if _, ok := r.GetCursor(id); ok {
		t.Fatal("expected an already-expired cursor (zero ttl) to be evicted on read")
	}

	id2 := r.PutCursor("payload-2", time.Hour)
	v, ok := r.GetCursor(id2)
	if !ok || v != "payload-2" {
		t.Fatalf("expected a live cursor to be readable, got (%v, %v)", v, ok)
	}
	r.CloseCursor(id2)
	if _, ok := r.GetCursor(id2); ok {
		t.Fatal("expected cursor gone after explicit close")
	}
}

func TestCommitTempObjectsDropsAndTruncates(t *testing.T) {
	r := NewRegistry()
	_ = r.AddTempObject("dropped", TempTable, OnCommitDrop)
	_ = r.AddTempObject("truncated", TempTable, OnCommitTruncate)
	_ = r.AddTempObject("kept", TempTable, OnCommitKeep)

	var dropped, truncated []string
	err := r.CommitTempObjects(
		func(name string) error { dropped = append(dropped, name); return nil },
		func(name string) error { truncated = append(truncated, name); return nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dropped) != 1 || dropped[0] != "dropped" {
		t.Fatalf("expected exactly 'dropped' to be dropped, got %v", dropped)
	}
	if len(truncated) != 1 || truncated[0] != "truncated" {
		t.Fatalf("expected exactly 'truncated' to be truncated, got %v", truncated)
	}
	if _, ok := r.GetTempObject("kept"); !ok {
		t.Fatal("expected OnCommitKeep object to survive commit")
	}
	if _, ok := r.GetTempObject("dropped"); ok {
		t.Fatal("expected dropped object removed from the registry")
	}
}
