package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/chatapp/pkg/client"
	"github.com/aeolun/chatapp/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

// Stats aggregates results across all bots
type Stats struct {
	messagesSent      atomic.Int64
	messagesFailed    atomic.Int64
	echoes            atomic.Int64 // own messages seen back
	deliveries        atomic.Int64 // every CHAT_MESSAGE received
	totalEchoTime     atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	usernamesRejected atomic.Int64
	disconnections    atomic.Int64
}

func (s *Stats) snapshot() (sent, echoes, deliveries int64, avgEchoUs float64) {
	sent = s.messagesSent.Load()
	echoes = s.echoes.Load()
	deliveries = s.deliveries.Load()
	if echoes > 0 {
		avgEchoUs = float64(s.totalEchoTime.Load()) / float64(echoes)
	}
	return
}

// BotClient is one simulated user
type BotClient struct {
	id       int
	username string
	session  *client.Session
	stats    *Stats

	pendingMu sync.Mutex
	pending   map[string]time.Time // message text -> send time
}

func NewBotClient(id int, codec protocol.Codec, stats *Stats) *BotClient {
	return &BotClient{
		id:       id,
		username: fmt.Sprintf("bot%04d-%s", id, strings.ToLower(loremWords[rand.Intn(len(loremWords))])),
		session:  client.NewSession(client.WithCodec(codec)),
		stats:    stats,
		pending:  make(map[string]time.Time),
	}
}

// Connect joins the server, retrying with a suffixed name if the username is taken
func (bc *BotClient) Connect(ctx context.Context, host string, port int) error {
	bc.session.Subscribe(client.EventChatMessage, bc.onChat)
	bc.session.Subscribe(client.EventConnectionLost, func(client.Event) {
		bc.stats.disconnections.Add(1)
	})

	name := bc.username
	for attempt := 0; attempt < 3; attempt++ {
		accepted, err := bc.session.Connect(ctx, host, port, name)
		if err != nil {
			return err
		}
		if accepted {
			bc.username = name
			if _, err := bc.session.ReceiveUserList(); err != nil {
				return err
			}
			if _, err := bc.session.ReceiveWelcomeMessage(); err != nil {
				return err
			}
			return bc.session.StartListening()
		}
		bc.stats.usernamesRejected.Add(1)
		name = bc.username + "-" + strconv.Itoa(attempt+1)
	}
	return fmt.Errorf("username %q rejected", bc.username)
}

func (bc *BotClient) onChat(ev client.Event) {
	bc.stats.deliveries.Add(1)
	if ev.Username != bc.username {
		return
	}

	bc.pendingMu.Lock()
	sentAt, ok := bc.pending[ev.Text]
	delete(bc.pending, ev.Text)
	bc.pendingMu.Unlock()

	if ok {
		bc.stats.echoes.Add(1)
		bc.stats.totalEchoTime.Add(time.Since(sentAt).Microseconds())
	}
}

// SendRandomMessage sends lorem ipsum tagged with a sequence number
func (bc *BotClient) SendRandomMessage(seq int) error {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, 0, wordCount+1)
	words = append(words, fmt.Sprintf("#%d", seq))
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}
	text := strings.Join(words, " ")

	bc.pendingMu.Lock()
	bc.pending[text] = time.Now()
	bc.pendingMu.Unlock()

	if err := bc.session.SendChatMessage(text); err != nil {
		bc.pendingMu.Lock()
		delete(bc.pending, text)
		bc.pendingMu.Unlock()
		bc.stats.messagesFailed.Add(1)
		return err
	}
	bc.stats.messagesSent.Add(1)
	return nil
}

// Run sends messages until duration elapses or ctx is cancelled
func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.session.Disconnect()

	endTime := time.Now().Add(duration)
	for seq := 1; time.Now().Before(endTime); seq++ {
		if err := bc.SendRandomMessage(seq); err != nil {
			return
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-bc.session.Done():
			return
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	select {
	case <-time.After(shutdownDelay):
	case <-ctx.Done():
	}
}

func main() {
	host := flag.String("host", "127.0.0.1", "Server host")
	port := flag.Int("port", 5000, "Server port")
	framing := flag.String("framing", protocol.CodecLegacy, "Envelope codec: legacy or framed")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	flag.Parse()

	codec, err := protocol.CodecByName(*framing)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *numClients <= 0 {
		log.Fatalf("-clients must be positive")
	}

	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s:%d (%s)", *host, *port, codec.Name())
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	var wg sync.WaitGroup

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, echoes, deliveries, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d sent (%.1f/s), %d echoed, %d delivered, avg echo %.2fms",
					sent, float64(sent)/elapsed, echoes, deliveries, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	startTime := time.Now()
	for i := 0; i < *numClients && ctx.Err() == nil; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot := NewBotClient(id, codec, stats)
			connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := bot.Connect(connectCtx, *host, *port)
			cancel()
			if err != nil {
				stats.connectionErrors.Add(1)
				bot.session.Disconnect()
				return
			}

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.username)
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	wg.Wait()
	close(stopStats)

	sent, echoes, deliveries, avgUs := stats.snapshot()
	elapsed := time.Since(startTime)

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", elapsed.Round(time.Millisecond))
	log.Printf("Messages sent: %d (%.1f/s)", sent, float64(sent)/elapsed.Seconds())
	log.Printf("Messages failed: %d", stats.messagesFailed.Load())
	log.Printf("Echoes received: %d", echoes)
	log.Printf("Chat deliveries: %d", deliveries)
	log.Printf("Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("Usernames rejected: %d", stats.usernamesRejected.Load())
	log.Printf("Connections lost: %d", stats.disconnections.Load())
	log.Printf("Average echo time: %.2fms", avgUs/1000.0)
	if sent > 0 {
		log.Printf("Echo rate: %.1f%%", float64(echoes)/float64(sent)*100)
	}

	if stats.connectionErrors.Load() > 0 {
		os.Exit(1)
	}
}
