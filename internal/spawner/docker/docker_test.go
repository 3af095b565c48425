package docker

import "testing"

func TestBuildCmdSubstitutesRankPlaceholder(t *testing.T) {
	got := buildCmd([]string{"heatsolve", "--rank", "{{rank}}", "--p", "1"}, 2)
	want := []string{"heatsolve", "--rank", "2", "--p", "1"}
	if len(got) != len(want) {
		t.Fatalf("buildCmd = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buildCmd[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildCmdLeavesOtherArgsUntouched(t *testing.T) {
	got := buildCmd([]string{"echo", "hello"}, 0)
	if got[0] != "echo" || got[1] != "hello" {
		t.Fatalf("buildCmd mutated non-placeholder args: %v", got)
	}
}

func TestBuildEnvPrependsRank(t *testing.T) {
	got := buildEnv(3, []string{"FOO=bar"})
	if len(got) != 2 || got[0] != "RANK=3" || got[1] != "FOO=bar" {
		t.Fatalf("buildEnv = %v", got)
	}
}

func TestLaunchedReturnsACopyNotTheInternalSlice(t *testing.T) {
	s := &Spawner{launched: []string{"c1", "c2"}}
	out := s.Launched()
	out[0] = "mutated"
	if s.launched[0] != "c1" {
		t.Fatalf("Launched() leaked internal slice: mutation observed on s.launched")
	}
}
