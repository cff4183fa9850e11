package utils

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

func init() {
	// Logger settings
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.JSONFormatter{})
	Logger.SetLevel(logrus.InfoLevel)
}

// SetLevel parses a logrus level name and applies it.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// LogTrade logs an executed trade
func LogTrade(pair, buyOrderID, sellOrderID string, price, amount float64) {
	Logger.WithFields(logrus.Fields{
		"pair":          pair,
		"buy_order_id":  buyOrderID,
		"sell_order_id": sellOrderID,
		"price":         price,
		"amount":        amount,
	}).Info("Trade executed")
}

// LogRequest logs a served HTTP request
func LogRequest(method, path string, status int, elapsed time.Duration) {
	Logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("Request served")
}

// LogError logs errors
func LogError(err error, msg string) {
	Logger.WithFields(logrus.Fields{
		"error": err.Error(),
	}).Error(msg)
}
