/*
Package cmd provides the urlfrontier CLI.

A binary that uses the default engine wiring requires simply:

	func main() {
		cmd.Execute()
	}

The command tree covers running the frontier itself (`server`), streaming a
file of links into a running frontier (`put`), querying it (`stats`), and
printing the Cassandra schema (`schema`).
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	frontier "github.com/michaeldinzinger/url-frontier"
	"github.com/michaeldinzinger/url-frontier/api"
	"github.com/michaeldinzinger/url-frontier/badgerstore"
	"github.com/michaeldinzinger/url-frontier/cassandra"
	"github.com/michaeldinzinger/url-frontier/console"
	"github.com/michaeldinzinger/url-frontier/memstore"
)

// Execute will run the command specified by the command line.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// config is potentially set by CLI below
var config string

var rootCommand = &cobra.Command{
	Use: "urlfrontier",
}

func initCommand() {
	if config != "" {
		if err := frontier.ReadConfigFile(config); err != nil {
			panic(err.Error())
		}
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
	fmt.Println()
	os.Exit(1)
}

// newStore builds the configured queue store backend.
func newStore() (frontier.QueueStore, error) {
	switch frontier.Config.Store.Backend {
	case "memory":
		return memstore.New(), nil
	case "badger":
		return badgerstore.Open()
	case "cassandra":
		return cassandra.NewStore()
	}
	return nil, fmt.Errorf("Unknown store backend %q", frontier.Config.Store.Backend)
}

func init() {
	rootCommand.PersistentFlags().StringVarP(&config,
		"config", "c", "", "path to a config file to load")

	var noConsole = false
	serverCommand := &cobra.Command{
		Use:   "server",
		Short: "start the frontier service",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			store, err := newStore()
			if err != nil {
				fatalf("Failed creating %v store: %v", frontier.Config.Store.Backend, err)
			}
			engine, err := frontier.NewEngine(store)
			if err != nil {
				fatalf("Failed creating engine: %v", err)
			}

			addr := fmt.Sprintf("%s:%d", frontier.Config.Frontier.Host, frontier.Config.Frontier.Port)
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				fatalf("Failed to bind %v: %v", addr, err)
			}

			grpcServer := grpc.NewServer(
				grpc.MaxConcurrentStreams(uint32(frontier.Config.Frontier.MaxConcurrentStreams)),
			)
			api.NewServer(engine).Attach(grpcServer)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				log.Infof("Frontier listening on %v", addr)
				return grpcServer.Serve(lis)
			})
			if !noConsole {
				group.Go(func() error {
					return console.New(engine).Serve(ctx)
				})
			}
			group.Go(func() error {
				<-ctx.Done()
				grpcServer.GracefulStop()
				return nil
			})

			if err := group.Wait(); err != nil && err != grpc.ErrServerStopped {
				log.Errorf("Frontier shut down with error: %v", err)
			}
			engine.Close()
		},
	}
	serverCommand.Flags().BoolVarP(&noConsole, "no-console", "C", false, "Do not start the console")
	rootCommand.AddCommand(serverCommand)

	var putFile string
	var putCrawl string
	var putAddr string
	putCommand := &cobra.Command{
		Use:   "put",
		Short: "stream a file of links into a running frontier",
		Long: `Put reads a file line by line and streams the links into the frontier.

A line starting with '{' is parsed as a JSON URLItem; any other non-empty
line is treated as a plain URL under the crawl given with --crawl.`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			if putFile == "" {
				fatalf("A file of links is needed to execute; add with --file/-f")
			}

			f, err := os.Open(putFile)
			if err != nil {
				fatalf("Failed to open %v: %v", putFile, err)
			}
			defer f.Close()

			client, err := api.Dial(putAddr)
			if err != nil {
				fatalf("%v", err)
			}
			defer client.Close()

			stream, err := client.PutURLs(context.Background())
			if err != nil {
				fatalf("Failed to open PutURLs stream: %v", err)
			}

			// One reader goroutine drains acks while we send; correlation is
			// by id, ordering is not guaranteed.
			acked := make(chan map[string]int, 1)
			go func() {
				counts := map[string]int{}
				for {
					ack, err := stream.Recv()
					if err == io.EOF {
						break
					}
					if err != nil {
						log.Errorf("Ack stream failed: %v", err)
						break
					}
					counts[ack.Status]++
				}
				acked <- counts
			}()

			sent := 0
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				var item api.URLItemMsg
				if strings.HasPrefix(line, "{") {
					if err := json.Unmarshal([]byte(line), &item); err != nil {
						log.Errorf("Skipping bad JSON line: %v", err)
						continue
					}
				} else {
					item.Discovered = &api.URLInfoMsg{URL: line, CrawlID: putCrawl}
				}

				if err := stream.Send(&item); err != nil {
					fatalf("Failed to send item: %v", err)
				}
				sent++
			}
			if err := scanner.Err(); err != nil {
				fatalf("Failed reading %v: %v", putFile, err)
			}

			if err := stream.CloseSend(); err != nil {
				fatalf("Failed to close stream: %v", err)
			}
			counts := <-acked

			fmt.Printf("Sent %v items\n", sent)
			for _, status := range []string{"OK", "SKIPPED", "FAIL"} {
				fmt.Printf("%-8v %v\n", status, counts[status])
			}
		},
	}
	putCommand.Flags().StringVarP(&putFile, "file", "f", "", "file with one link or JSON URLItem per line")
	putCommand.Flags().StringVarP(&putCrawl, "crawl", "i", "default", "crawl id for plain-url lines")
	putCommand.Flags().StringVarP(&putAddr, "addr", "a", "localhost:7071", "frontier address")
	rootCommand.AddCommand(putCommand)

	var statsAddr string
	var statsCrawl string
	statsCommand := &cobra.Command{
		Use:   "stats",
		Short: "print stats of a running frontier",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			client, err := api.Dial(statsAddr)
			if err != nil {
				fatalf("%v", err)
			}
			defer client.Close()

			stats, err := client.GetStats(context.Background(), statsCrawl)
			if err != nil {
				fatalf("Failed to get stats: %v", err)
			}
			fmt.Printf("Queues:    %v\n", stats.Queues)
			fmt.Printf("Active:    %v\n", stats.Active)
			fmt.Printf("InFlight:  %v\n", stats.InFlight)
			fmt.Printf("Completed: %v\n", stats.Completed)
			fmt.Printf("Healthy:   %v\n", stats.Healthy)

			queues, err := client.ListQueues(context.Background(),
				&api.PaginationMsg{CrawlID: statsCrawl})
			if err != nil {
				fatalf("Failed to list queues: %v", err)
			}
			for _, q := range queues {
				fmt.Printf("%v/%v: active=%v in_flight=%v completed=%v status=%v\n",
					q.CrawlID, q.Key, q.ActiveCount, q.InFlight, q.CompletedCount, q.Status)
			}
		},
	}
	statsCommand.Flags().StringVarP(&statsAddr, "addr", "a", "localhost:7071", "frontier address")
	statsCommand.Flags().StringVarP(&statsCrawl, "crawl", "i", "", "restrict to one crawl")
	rootCommand.AddCommand(statsCommand)

	var outfile string
	schemaCommand := &cobra.Command{
		Use:   "schema",
		Short: "output the cassandra schema",
		Long: `Schema prints the frontier schema to a file, substituting
schema-relevant configuration items (ex. keyspace, replication factor).
Useful for something like:
    $ <edit urlfrontier.yaml as desired>
    $ urlfrontier schema -o schema.cql
    $ <edit schema.cql further as desired>
    $ cqlsh -f schema.cql
`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			if outfile == "" {
				fatalf("An output file is needed to execute; add with --out/-o")
			}

			out, err := os.Create(outfile)
			if err != nil {
				panic(err.Error())
			}
			defer out.Close()

			fmt.Fprint(out, cassandra.GetSchema())
		},
	}
	schemaCommand.Flags().StringVarP(&outfile, "out", "o", "", "File to write output to")
	rootCommand.AddCommand(schemaCommand)
}
