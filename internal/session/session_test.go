package session

import (
	"testing"
	"time"
)

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
}

func TestAddOccupantRejectsDuplicate(t *testing.T) {
	c := NewContext()
	if !c.AddOccupant(&Occupant{PeerID: 1, DisplayName: "alice", JoinedAt: at(0)}) {
		t.Fatal("first add should succeed")
	}
	if c.AddOccupant(&Occupant{PeerID: 1, DisplayName: "alice", JoinedAt: at(1)}) {
		t.Error("duplicate peer id should be rejected")
	}
	if c.OccupantCount() != 1 {
		t.Errorf("count = %d, want 1", c.OccupantCount())
	}
}

func TestResetDrainsOccupantsInJoinOrder(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: 2, DisplayName: "bob", JoinedAt: at(5)})
	c.AddOccupant(&Occupant{PeerID: 1, DisplayName: "alice", JoinedAt: at(1)})
	c.AddOccupant(&Occupant{PeerID: 3, DisplayName: "carol", JoinedAt: at(3)})
	c.SetMasterPeer(2)
	c.SetLocalPeer(1)

	epochBefore := c.Epoch()
	drained := c.Reset(Location{WorldID: "wrld_2", StartedAt: at(10)})

	if len(drained) != 3 {
		t.Fatalf("drained %d occupants, want 3", len(drained))
	}
	for i, want := range []string{"alice", "carol", "bob"} {
		if drained[i].DisplayName != want {
			t.Errorf("drained[%d] = %s, want %s", i, drained[i].DisplayName, want)
		}
	}

	if c.Epoch() != epochBefore+1 {
		t.Error("reset must advance the epoch")
	}
	if c.OccupantCount() != 0 {
		t.Error("reset must clear occupants")
	}
	if c.MasterPeer() != 0 || c.LocalPeer() != 0 {
		t.Error("reset must clear master and local peers")
	}
	if c.Location().WorldID != "wrld_2" {
		t.Errorf("location = %q, want wrld_2", c.Location().WorldID)
	}
}

func TestSyntheticPeersAreNegativeAndUnique(t *testing.T) {
	c := NewContext()
	a := c.AllocSyntheticPeer()
	b := c.AllocSyntheticPeer()
	if a >= 0 || b >= 0 {
		t.Errorf("synthetic peers must be negative, got %d, %d", a, b)
	}
	if a == b {
		t.Error("synthetic peers must be unique")
	}
}

func TestSetMasterPeerUpdatesFlags(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: 1, JoinedAt: at(0)})
	c.AddOccupant(&Occupant{PeerID: 2, JoinedAt: at(1)})

	c.SetMasterPeer(1)
	if o, _ := c.Occupant(1); !o.IsMaster {
		t.Error("peer 1 should be master")
	}

	c.SetMasterPeer(2)
	if o, _ := c.Occupant(1); o.IsMaster {
		t.Error("peer 1 should have lost master")
	}
	if o, _ := c.Occupant(2); !o.IsMaster {
		t.Error("peer 2 should be master")
	}
}

func TestPortalLeaveAccounting(t *testing.T) {
	c := NewContext()
	c.AddPortal(&Portal{PortalID: "p1", CreatedAt: at(0)})

	if !c.IncrementPortalLeave("p1") {
		t.Fatal("increment should find the portal")
	}
	c.IncrementPortalLeave("p1")

	p, _ := c.Portal("p1")
	if p.PlayerCount != 2 || p.PendingLeaveCount != 2 {
		t.Errorf("portal counters = %d/%d, want 2/2", p.PlayerCount, p.PendingLeaveCount)
	}

	if id := c.ConsumePendingPortalLeave(); id != "p1" {
		t.Errorf("consume = %q, want p1", id)
	}
	if id := c.ConsumePendingPortalLeave(); id != "p1" {
		t.Errorf("second consume = %q, want p1", id)
	}
	if id := c.ConsumePendingPortalLeave(); id != "" {
		t.Errorf("drained consume = %q, want empty", id)
	}

	p, _ = c.Portal("p1")
	if p.PendingLeaveCount != 0 {
		t.Errorf("pending leaves = %d, want 0", p.PendingLeaveCount)
	}
	if p.PlayerCount != 2 {
		t.Errorf("player count = %d, want 2", p.PlayerCount)
	}
}

func TestIncrementPortalLeaveUnknownPortal(t *testing.T) {
	c := NewContext()
	if c.IncrementPortalLeave("nope") {
		t.Error("unknown portal should report false")
	}
}

func TestSwapLastAvatar(t *testing.T) {
	c := NewContext()
	if prev := c.SwapLastAvatar("usr_1", "avtr_a"); prev != "" {
		t.Errorf("first swap prev = %q, want empty", prev)
	}
	if prev := c.SwapLastAvatar("usr_1", "avtr_b"); prev != "avtr_a" {
		t.Errorf("second swap prev = %q, want avtr_a", prev)
	}
}

func TestFindOccupantByName(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: 7, DisplayName: "dana", JoinedAt: at(0)})

	if o, ok := c.FindOccupantByName("dana"); !ok || o.PeerID != 7 {
		t.Errorf("find = %+v, %v", o, ok)
	}
	if _, ok := c.FindOccupantByName("nobody"); ok {
		t.Error("unknown name should not be found")
	}
}

func TestFindLogOnlyOccupantIgnoresProtocolPeers(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: 3, UserID: "usr_a", DisplayName: "alice", JoinedAt: at(0)})
	c.AddOccupant(&Occupant{PeerID: -1, UserID: "usr_b", DisplayName: "bob", JoinedAt: at(1)})

	if _, ok := c.FindLogOnlyOccupant("usr_a", "alice"); ok {
		t.Error("protocol peer must not match")
	}
	if o, ok := c.FindLogOnlyOccupant("usr_b", ""); !ok || o.PeerID != -1 {
		t.Errorf("by user id: got %+v, %v", o, ok)
	}
	if o, ok := c.FindLogOnlyOccupant("", "bob"); !ok || o.PeerID != -1 {
		t.Errorf("by name: got %+v, %v", o, ok)
	}
	if _, ok := c.FindLogOnlyOccupant("", ""); ok {
		t.Error("empty keys must not match anything")
	}
}

func TestRekeyOccupantMovesState(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: -1, DisplayName: "carol", JoinedAt: at(0)})
	c.SetLastChat(-1, "hi")
	c.SetLocalPeer(-1)

	if !c.RekeyOccupant(-1, 7, func(o *Occupant) { o.UserID = "usr_c" }) {
		t.Fatal("rekey should succeed")
	}

	if _, ok := c.Occupant(-1); ok {
		t.Error("old peer id should be gone")
	}
	o, ok := c.Occupant(7)
	if !ok || o.UserID != "usr_c" || o.DisplayName != "carol" {
		t.Errorf("occupant = %+v, %v", o, ok)
	}
	if !o.JoinedAt.Equal(at(0)) {
		t.Error("join time must survive the rekey")
	}
	if c.LastChat(7) != "hi" || c.LastChat(-1) != "" {
		t.Error("chat state should follow the record")
	}
	if c.LocalPeer() != 7 {
		t.Error("local marker should follow the record")
	}
	if c.OccupantCount() != 1 {
		t.Errorf("count = %d, want 1", c.OccupantCount())
	}
}

func TestRekeyOccupantRejectsCollisions(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: -1, DisplayName: "carol", JoinedAt: at(0)})
	c.AddOccupant(&Occupant{PeerID: 2, DisplayName: "dana", JoinedAt: at(1)})

	if c.RekeyOccupant(-1, 2, nil) {
		t.Error("rekey onto a live peer must fail")
	}
	if c.RekeyOccupant(-9, 5, nil) {
		t.Error("rekey of an absent peer must fail")
	}
	if c.OccupantCount() != 2 {
		t.Errorf("count = %d, want 2", c.OccupantCount())
	}
}

func TestRemoveOccupantClearsChatState(t *testing.T) {
	c := NewContext()
	c.AddOccupant(&Occupant{PeerID: 4, DisplayName: "eve", JoinedAt: at(0)})
	c.SetLastChat(4, "hi")

	if _, ok := c.RemoveOccupant(4); !ok {
		t.Fatal("remove should succeed")
	}
	if c.LastChat(4) != "" {
		t.Error("chat state should be cleared with the occupant")
	}
	if _, ok := c.RemoveOccupant(4); ok {
		t.Error("second remove should fail")
	}
}
