// Package voxbooth is a real-time audio I/O engine for recording voice
// datasets: a capture process and a playback process, each owning one
// PortAudio hardware stream, coordinated through named shared memory.
//
// # Overview
//
// The package provides:
//   - Callback-driven recording with channel mapping and level metering
//   - Zero-copy playback of whole recordings from shared memory
//   - A lock-free shared state protocol across process boundaries
//   - JSON command channels between an orchestrator and its workers
//   - Position synchronization with an early end-of-playback signal
//   - Optional live audio visualization over a websocket
//
// # Quick Start
//
// Orchestrated recording session:
//
//	config := voxbooth.NewConfig()
//	orch, err := voxbooth.NewOrchestrator(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer orch.Shutdown()
//
//	if err := orch.StartWorkers(); err != nil {
//		log.Fatal(err)
//	}
//
//	orch.StartRecording()
//	time.Sleep(5 * time.Second)
//	buf, err := orch.StopRecording()
//	if err != nil {
//		log.Fatal(err)
//	}
//	orch.SaveRecording(buf, "take-001.wav")
//
// Playing the take back:
//
//	orch.Play(buf.Metadata(), config.Audio.SampleRate)
//
// # Position Synchronization
//
// A PositionSyncClient polls the shared playback state and drives
// callbacks suitable for cursor animation:
//
//	sync := voxbooth.NewPositionSyncClient(orch.State(), 48000, 0,
//		func(seconds float64) { fmt.Printf("pos %.2fs\n", seconds) },
//		func() { fmt.Println("finished") })
//	go sync.Run(ctx)
//
// # Shared State
//
// All cross-process coordination happens through a fixed-layout record in
// a named shared segment. Each field group has a single writer and a
// status word that readers must check before trusting the payload; the
// sample position and meter frame count serve as freshness counters. See
// SharedState for the full protocol.
//
// # Workers
//
// The capture and playback engines run in their own processes, started as
// subcommands of the same binary (see cmd/voxbooth). Workers attach the
// state segment by name, read commands from stdin, and report events on
// stdout, so the orchestrator needs no inherited handles.
package voxbooth
