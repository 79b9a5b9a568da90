package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"github.com/voxbooth/voxbooth-go/pkg/voxbooth"
)

var (
	verbose   bool
	duration  float64
	output    string
	stateName string
	visAddr   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voxbooth",
		Short: "Voxbooth audio engine CLI",
		Long:  "Record and play voice-dataset takes through the Voxbooth audio engine",
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(captureWorkerCmd())
	rootCmd.AddCommand(playbackWorkerCmd())

	if err := rootCmd.Execute(); err != nil {
		voxbooth.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func loadConfig() *voxbooth.Config {
	config := voxbooth.NewConfig()
	if visAddr != "" {
		config.VisAddr = visAddr
	}
	if issues := config.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "config: %s\n", issue)
		}
		os.Exit(1)
	}
	if verbose {
		config.PrintConfig()
	}
	return config
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a take to a WAV file",
		Long:  "Record from the configured input device until the duration elapses or Ctrl-C",
		Run: func(cmd *cobra.Command, args []string) {
			config := loadConfig()

			orch, err := voxbooth.NewOrchestrator(config)
			if err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Creating session failed")
			}
			defer orch.Shutdown()

			if err := orch.StartWorkers(); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Starting workers failed")
			}
			if err := orch.StartRecording(); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Starting recording failed")
			}

			if duration > 0 {
				fmt.Printf("Recording for %.1f seconds...\n", duration)
				wait(time.Duration(duration * float64(time.Second)))
			} else {
				fmt.Println("Recording, press Ctrl-C to stop...")
				wait(0)
			}

			buf, err := orch.StopRecording()
			if err != nil {
				if msg, ok := orch.CaptureError(); ok {
					voxbooth.GetGlobalLogger().Errorf("capture error: %s", msg)
				}
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Stopping recording failed")
			}
			if buf == nil {
				fmt.Println("Nothing recorded.")
				return
			}
			if err := orch.SaveRecording(buf, output); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Saving recording failed")
			}
			fmt.Printf("Saved %s\n", output)
		},
	}

	cmd.Flags().Float64VarP(&duration, "duration", "d", 0, "Recording duration in seconds (0 = until Ctrl-C)")
	cmd.Flags().StringVarP(&output, "output", "o", "recording.wav", "Output WAV path")
	cmd.Flags().StringVar(&visAddr, "vis-addr", "", "Websocket visualization listen address")
	return cmd
}

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Play a WAV file",
		Long:  "Load a WAV file into shared memory and play it through the playback worker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			config := loadConfig()

			samples, rate, channels, err := loadWAV(args[0])
			if err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Loading WAV failed")
			}

			orch, err := voxbooth.NewOrchestrator(config)
			if err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Creating session failed")
			}
			defer orch.Shutdown()

			if err := orch.StartWorkers(); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Starting workers failed")
			}

			buf, err := orch.Registry().CreateFromSamples(samples, channels)
			if err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Creating playback buffer failed")
			}
			if err := orch.Play(buf.Metadata(), rate); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Starting playback failed")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			sync := voxbooth.NewPositionSyncClient(orch.State(), rate, 0,
				func(seconds float64) {
					if verbose {
						fmt.Printf("\rposition %6.2fs", seconds)
					}
				},
				func() {
					if verbose {
						fmt.Println()
					}
					fmt.Println("Playback finished.")
					cancel()
				})
			go sync.Run(ctx)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-ctx.Done():
			case <-sig:
				orch.StopPlayback()
				cancel()
			}
		},
	}
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			if err := portaudio.Initialize(); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Initializing audio failed")
			}
			defer portaudio.Terminate()

			devices, err := voxbooth.ListDevices()
			if err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Listing devices failed")
			}

			fmt.Printf("%-4s %-40s %-6s %-6s %-10s %s\n", "ID", "Name", "In", "Out", "Rate", "Host API")
			for _, d := range devices {
				marker := " "
				if d.IsDefault {
					marker = "*"
				}
				fmt.Printf("%-4d %-40s %-6d %-6d %-10.0f %s %s\n",
					d.ID, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.HostAPI, marker)
			}
		},
	}
}

func captureWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "capture-worker",
		Short:  "Run the capture worker process",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			config := voxbooth.NewConfig()
			if visAddr != "" {
				config.VisAddr = visAddr
			}
			worker := voxbooth.NewCaptureWorker(config)
			if err := worker.Run(stateName, os.Stdin, os.Stdout); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Capture worker failed")
			}
		},
	}
	cmd.Flags().StringVar(&stateName, "state", "", "Shared state segment name")
	cmd.Flags().StringVar(&visAddr, "vis-addr", "", "Websocket visualization listen address")
	cmd.MarkFlagRequired("state")
	return cmd
}

func playbackWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "playback-worker",
		Short:  "Run the playback worker process",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			config := voxbooth.NewConfig()
			worker := voxbooth.NewPlaybackWorker(config)
			if err := worker.Run(stateName, os.Stdin, os.Stdout); err != nil {
				voxbooth.GetGlobalLogger().WithError(err).Fatal("Playback worker failed")
			}
		},
	}
	cmd.Flags().StringVar(&stateName, "state", "", "Shared state segment name")
	cmd.MarkFlagRequired("state")
	return cmd
}

// wait blocks for d, or until an interrupt; d == 0 waits for the signal
// alone.
func wait(d time.Duration) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	if d == 0 {
		<-sig
		return
	}
	select {
	case <-time.After(d):
	case <-sig:
	}
}

// loadWAV decodes a whole WAV file into normalized float32 samples.
func loadWAV(path string) ([]float32, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	if pcm.Format == nil || len(pcm.Data) == 0 {
		return nil, 0, 0, fmt.Errorf("no audio data in %s", path)
	}

	bits := pcm.SourceBitDepth
	if bits == 0 {
		bits = 16
	}
	scale := float32(int(1) << (bits - 1))
	samples := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = float32(v) / scale
	}
	return samples, pcm.Format.SampleRate, pcm.Format.NumChannels, nil
}
