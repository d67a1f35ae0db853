// Command tradetail follows the trade topic and pretty prints every
// executed trade. It is a developer tool for watching engine output
// without wiring up a real consumer.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tickmatch/engine/pkg/messaging"
	"github.com/tickmatch/engine/pkg/messaging/kafka"
)

var (
	brokers = flag.String("brokers", "localhost:9092", "Comma-separated Kafka broker addresses")
	topic   = flag.String("topic", "trades", "Trade topic to follow")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	consumer, err := kafka.NewTradeConsumer(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Info().Msg("Stopping")
		consumer.Close()
	}()

	log.Info().Str("brokers", *brokers).Str("topic", *topic).Msg("Following trades")

	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	count := 0
	err = consumer.ConsumeTrades(func(trade *messaging.TradeMessage) error {
		count++
		fmt.Printf("%s  %s x %s  buy=%s sell=%s\n",
			cyan("#%d", count),
			green("%d", trade.Price),
			green("%d", trade.Quantity),
			green("%s", trade.BuyOrderID),
			red("%s", trade.SellOrderID),
		)
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Consumer stopped with error")
	}
}
