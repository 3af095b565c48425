package cliapp

import (
	"fmt"

	"github.com/lapesd/faultsolve/internal/repair"
)

// ResolveSpareRank computes the final rank and roster a replacement
// process should bootstrap with, without any runtime handshake: every
// process in a distributed run — survivor or spare — is launched with
// the same static original roster and the same fault schedule, so the
// merged-position -> original-rank mapping repair.AssignOriginalRanks
// produces is something a spare can compute entirely on its own from
// its spawn index, exactly mirroring what fabric/grpc's Shrink/Merge/
// SplitByRank already do for the surviving side: agree from identical
// inputs, not from a message.
//
// original is the full pre-failure roster, deadRanks the original
// ranks this spare pool is replacing, spareIndex this process's
// position within spareAddrs (the pool of addresses every process was
// told to expect replacements at), and spareAddrs the full pool.
func ResolveSpareRank(original []string, deadRanks []int, spareIndex int, spareAddrs []string) (finalRank int, finalRoster []string, err error) {
	if spareIndex < 0 || spareIndex >= len(spareAddrs) {
		return 0, nil, fmt.Errorf("spare index %d out of range for pool of %d", spareIndex, len(spareAddrs))
	}
	if len(deadRanks) > len(spareAddrs) {
		return 0, nil, fmt.Errorf("%d dead ranks but only %d spare addresses available", len(deadRanks), len(spareAddrs))
	}

	dead := make(map[int]bool, len(deadRanks))
	for _, r := range deadRanks {
		dead[r] = true
	}

	survivorAddrs := make([]string, 0, len(original))
	for r, addr := range original {
		if !dead[r] {
			survivorAddrs = append(survivorAddrs, addr)
		}
	}

	combined := make([]string, 0, len(survivorAddrs)+len(deadRanks))
	combined = append(combined, survivorAddrs...)
	combined = append(combined, spareAddrs[:len(deadRanks)]...)

	order := repair.AssignOriginalRanks(len(original), deadRanks)
	finalRoster = make([]string, len(combined))
	for mergedRank, addr := range combined {
		orig, ok := order[mergedRank]
		if !ok || orig < 0 || orig >= len(finalRoster) {
			return 0, nil, fmt.Errorf("assignment order missing merged rank %d", mergedRank)
		}
		finalRoster[orig] = addr
	}

	mergedRank := len(survivorAddrs) + spareIndex
	if mergedRank >= len(combined) {
		// This spare's slot in the pool is not needed for this
		// particular failure (spareAddrs is sized for the worst case
		// across the whole fault plan); it has nothing to join yet.
		return 0, nil, fmt.Errorf("spare index %d not needed to replace %d dead rank(s)", spareIndex, len(deadRanks))
	}
	finalRank, ok := order[mergedRank]
	if !ok {
		return 0, nil, fmt.Errorf("assignment order missing merged rank %d", mergedRank)
	}
	return finalRank, finalRoster, nil
}
