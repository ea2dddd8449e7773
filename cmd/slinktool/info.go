package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EarthScope/slinktool/internal/infoxml"
	"github.com/EarthScope/slinktool/internal/seedlink"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <host[:port] | ws://...>",
		Short: "Check that a SeedLink server responds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := seedlink.New(args[0], seedlink.Options{
				IOTimeout: cfg.Connection.IOTimeout,
				Logger:    logger,
			})
			serverID, site, err := conn.Ping()
			if err != nil {
				return err
			}
			fmt.Println(serverID)
			fmt.Println(site)
			return nil
		},
	}
}

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <host[:port] | ws://...>",
		Short: "Print the server identification (INFO ID)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args[0], "ID", false)
		},
	}
}

func infoCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "info <level> <host[:port] | ws://...>",
		Short: "Request an INFO level and print the response",
		Long: `Request one of the INFO levels a SeedLink server offers and print a
formatted listing. Levels: id, capabilities, stations, streams, gaps,
connections, all. Servers restrict the higher levels.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := strings.ToUpper(args[0])
			switch level {
			case "ID", "CAPABILITIES", "STATIONS", "STREAMS", "GAPS", "CONNECTIONS", "ALL":
			default:
				return fmt.Errorf("unknown INFO level %q", args[0])
			}
			return runInfo(args[1], level, raw)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "dump the raw XML response")
	return cmd
}

// runInfo drives a subscription-less session for one INFO request and
// prints the reassembled response.
func runInfo(address, level string, raw bool) error {
	var handled error
	done := false

	var conn *seedlink.Conn
	conn = seedlink.New(address, seedlink.Options{
		IOTimeout:      cfg.Connection.IOTimeout,
		NetTimeout:     cfg.Connection.NetTimeout,
		ReconnectDelay: cfg.Connection.ReconnectDelay,
		Logger:         logger,
		InfoHandler: func(xml []byte) {
			done = true
			handled = printInfo(level, xml, raw)
			conn.Terminate()
		},
	})

	if err := conn.RequestInfo(level); err != nil {
		return err
	}

	for {
		_, err := conn.Collect()
		if err != nil {
			if done && errors.Is(err, seedlink.ErrTerminated) {
				return handled
			}
			return err
		}
	}
}

func printInfo(level string, xml []byte, raw bool) error {
	if raw {
		_, err := os.Stdout.Write(append(xml, '\n'))
		return err
	}

	doc, err := infoxml.Parse(xml)
	if err != nil {
		return err
	}

	w := os.Stdout
	switch level {
	case "ID":
		doc.WriteIdentification(w)
	case "CAPABILITIES":
		doc.WriteCapabilities(w)
	case "STATIONS":
		doc.WriteStations(w)
	case "STREAMS":
		doc.WriteStreams(w)
	case "GAPS":
		doc.WriteGaps(w)
	case "CONNECTIONS":
		doc.WriteConnections(w)
	default:
		doc.WriteIdentification(w)
		doc.WriteStations(w)
	}
	return nil
}
