package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EarthScope/slinktool/internal/archive"
	"github.com/EarthScope/slinktool/internal/config"
	"github.com/EarthScope/slinktool/internal/seedlink"
)

func streamCmd() *cobra.Command {
	var (
		streams    string
		streamFile string
		selectors  string
		timeWindow string
		stateSpec  string
		dialup     bool
		batch      bool
		keepalive  int
		netto      int
		netdly     int
		output     string
		archiveFmt string
		sdsRoot    string
		budRoot    string
		uni        bool
		printLevel int
	)

	cmd := &cobra.Command{
		Use:   "stream <host[:port] | ws://...>",
		Short: "Collect miniSEED records from a SeedLink server",
		Long: `Connect to a SeedLink server and collect records until interrupted (or,
in dial-up mode, until the server has flushed its buffers).

Examples:
  # Two stations, vertical broadband channels
  slinktool stream -S "GE_STU:BHZ,GE_WLF:BHZ" geofon.gfz-potsdam.de

  # All stations the server carries, day files in an SDS archive
  slinktool stream --uni --sds /data/sds rtserve.iris.washington.edu

  # Resume across restarts with a state file
  slinktool stream -S "NL_HGN" -x hgn.state:100 rtserve.iris.washington.edu`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyStreamFlags(cmd, cfg, streams, streamFile, selectors, timeWindow,
				stateSpec, dialup, batch, keepalive, netto, netdly, output,
				archiveFmt, sdsRoot, budRoot, uni, printLevel)
			return runStream(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&streams, "streams", "S", "", "inline stream list: NET_STA[:selectors],...")
	cmd.Flags().StringVarP(&streamFile, "streamlist", "l", "", "stream list file, one NET STA [selectors...] per line")
	cmd.Flags().StringVarP(&selectors, "selectors", "s", "", "default selectors for entries without their own")
	cmd.Flags().StringVar(&timeWindow, "time-window", "", "server-side time window start[:end], times as YYYY,MM,DD,HH,MM,SS")
	cmd.Flags().StringVarP(&stateSpec, "statefile", "x", "", "state file[:interval] for resuming across restarts")
	cmd.Flags().BoolVarP(&dialup, "dialup", "d", false, "dial-up mode: fetch buffered data and disconnect")
	cmd.Flags().BoolVarP(&batch, "batch", "b", false, "batch mode negotiation (protocol >= 3)")
	cmd.Flags().IntVarP(&keepalive, "keepalive", "k", 0, "keepalive interval in seconds, 0 disables")
	cmd.Flags().IntVar(&netto, "netto", 0, "network timeout in seconds (default 600)")
	cmd.Flags().IntVar(&netdly, "netdly", 0, "reconnect delay in seconds (default 30)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "dump records to file, - for stdout, .zst for zstd compression")
	cmd.Flags().StringVarP(&archiveFmt, "archive", "A", "", "archive template with %X defining and #X non-defining tokens")
	cmd.Flags().StringVar(&sdsRoot, "sds", "", "archive into an SDS structure at this root")
	cmd.Flags().StringVar(&budRoot, "bud", "", "archive into a BUD structure at this root")
	cmd.Flags().BoolVar(&uni, "uni", false, "uni-station mode: all stations the server sends")
	cmd.Flags().CountVarP(&printLevel, "print", "p", "print packet details, repeat for more")

	return cmd
}

// applyStreamFlags folds set flags over the loaded config; flags win.
func applyStreamFlags(cmd *cobra.Command, cfg *config.Config, streams, streamFile,
	selectors, timeWindow, stateSpec string, dialup, batch bool,
	keepalive, netto, netdly int, output, archiveFmt, sdsRoot, budRoot string,
	uni bool, printLevel int) {

	if streams != "" {
		cfg.Streams.List = streams
	}
	if streamFile != "" {
		cfg.Streams.File = streamFile
	}
	if selectors != "" {
		cfg.Streams.Selectors = selectors
	}
	if uni {
		cfg.Streams.Uni = true
	}
	if timeWindow != "" {
		cfg.Connection.TimeWindow = timeWindow
	}
	if stateSpec != "" {
		path, interval, err := config.ParseStateFile(stateSpec)
		if err == nil {
			cfg.State.File = path
			cfg.State.Interval = interval
		}
	}
	if dialup {
		cfg.Connection.Dialup = true
	}
	if batch {
		cfg.Connection.Batch = true
	}
	if cmd.Flags().Changed("keepalive") {
		cfg.Connection.Keepalive = keepalive
	}
	if cmd.Flags().Changed("netto") {
		cfg.Connection.NetTimeout = netto
	}
	if cmd.Flags().Changed("netdly") {
		cfg.Connection.ReconnectDelay = netdly
	}
	if output != "" {
		cfg.Output.File = output
	}
	if archiveFmt != "" {
		cfg.Archive.Format = archiveFmt
	}
	if sdsRoot != "" {
		cfg.Archive.SDSRoot = sdsRoot
	}
	if budRoot != "" {
		cfg.Archive.BUDRoot = budRoot
	}
	if printLevel > 0 {
		cfg.Output.PrintLevel = printLevel
	}
}

func runStream(cmd *cobra.Command, address string) error {
	opts := seedlink.Options{
		Dialup:         cfg.Connection.Dialup,
		Batch:          cfg.Connection.Batch,
		Keepalive:      cfg.Connection.Keepalive,
		NetTimeout:     cfg.Connection.NetTimeout,
		ReconnectDelay: cfg.Connection.ReconnectDelay,
		IOTimeout:      cfg.Connection.IOTimeout,
		Logger:         logger,
	}

	if cfg.Connection.TimeWindow != "" {
		begin, end, err := config.ParseTimeWindow(cfg.Connection.TimeWindow)
		if err != nil {
			return err
		}
		opts.BeginTime = begin
		opts.EndTime = end
	}

	conn := seedlink.New(address, opts)

	if err := configureStreams(conn); err != nil {
		return err
	}

	if cfg.State.File != "" {
		if err := conn.RecoverState(cfg.State.File); err != nil {
			return err
		}
	}

	dump, closeDump, err := openDump(cfg.Output.File)
	if err != nil {
		return err
	}
	defer closeDump()

	var router *archive.Router
	switch {
	case cfg.Archive.Format != "":
		router = archive.New(cfg.Archive.Format, archiveOptions(false))
	case cfg.Archive.SDSRoot != "":
		router = archive.New(archive.SDS(cfg.Archive.SDSRoot), archiveOptions(false))
	case cfg.Archive.BUDRoot != "":
		router = archive.New(archive.BUD(cfg.Archive.BUDRoot), archiveOptions(true))
	}
	if router != nil {
		defer func() {
			if err := router.Close(); err != nil {
				logger.Warn("closing archive", zap.Error(err))
			}
		}()
	}

	// Cooperative shutdown on SIGINT/SIGTERM.
	go func() {
		<-cmd.Context().Done()
		conn.Terminate()
	}()

	saveState := func() {
		if cfg.State.File == "" {
			return
		}
		if err := conn.SaveState(cfg.State.File); err != nil {
			logger.Warn("saving state", zap.Error(err))
		}
	}
	defer saveState()

	packets := 0
	for {
		pkt, err := conn.Collect()
		if err != nil {
			if errors.Is(err, seedlink.ErrTerminated) || errors.Is(err, seedlink.ErrServerEnd) {
				logger.Info("collection finished", zap.Int("packets", packets))
				return nil
			}
			return err
		}

		packets++
		printPacket(pkt, cfg.Output.PrintLevel)

		if dump != nil {
			if _, err := dump.Write(pkt.Data); err != nil {
				return fmt.Errorf("writing dump file: %w", err)
			}
		}
		if router != nil {
			if err := router.Write(pkt.Data, pkt.FormatVersion); err != nil {
				logger.Warn("archiving record", zap.Error(err))
			}
		}
		if cfg.State.Interval > 0 && packets%cfg.State.Interval == 0 {
			saveState()
		}
	}
}

func archiveOptions(waveformOnly bool) archive.Options {
	return archive.Options{
		IdleTimeout:  time.Duration(cfg.Archive.IdleTimeout) * time.Second,
		MaxOpenFiles: cfg.Archive.MaxOpenFiles,
		WaveformOnly: waveformOnly,
		Logger:       logger,
	}
}

// configureStreams builds the subscription registry from config: an inline
// list, a stream list file, or uni-station mode when neither is given.
func configureStreams(conn *seedlink.Conn) error {
	count := 0

	if cfg.Streams.List != "" {
		n, err := conn.ParseStreamList(cfg.Streams.List, cfg.Streams.Selectors)
		if err != nil {
			return err
		}
		count += n
	}
	if cfg.Streams.File != "" {
		n, err := conn.ReadStreamList(cfg.Streams.File, cfg.Streams.Selectors)
		if err != nil {
			return err
		}
		count += n
	}

	if count == 0 || cfg.Streams.Uni {
		return conn.SetUniParams(cfg.Streams.Selectors, -1, "")
	}
	return nil
}

// openDump opens the record dump sink: stdout for "-", an append file
// otherwise, zstd compressed when the path ends in .zst.
func openDump(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	if path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening dump file: %w", err)
	}

	if !strings.HasSuffix(path, ".zst") {
		return f, func() { _ = f.Close() }, nil
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	return zw, func() {
		if err := zw.Close(); err != nil {
			logger.Warn("closing zstd writer", zap.Error(err))
		}
		_ = f.Close()
	}, nil
}

func printPacket(pkt *seedlink.Packet, level int) {
	if level <= 0 {
		return
	}

	info, err := pkt.Info()
	if err != nil {
		logger.Warn("unparseable record header", zap.Error(err))
		return
	}

	fmt.Printf("%s, seq %d, %s, %d samples\n",
		info.SrcName(), pkt.SeqNum, info.StartTime, info.NumSamples)

	if level > 1 {
		fmt.Printf("  format v%d, %d bytes, type %c\n",
			pkt.FormatVersion, len(pkt.Data), info.Type.Code())
	}
}
