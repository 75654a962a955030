// Package mediastub provides an in-memory media engine for tests. It follows
// the same close-hook and cascade rules as the pion engine but never opens a
// socket, so the SFU adapter and the signaling coordinator can be exercised
// deterministically. Workers can be killed to simulate engine death.
package mediastub
