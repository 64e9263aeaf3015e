// Package logutil configures where logrus output goes.
// ConfigurePersistentLogging multi-writes to stdout and a log file;
// CountdownToGenesis prints a periodic countdown ahead of the
// simulated genesis time.
package logutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethsim/beaconsim/shared/roughtime"
	"github.com/sirupsen/logrus"
)

// ConfigurePersistentLogging adds a log-to-file writer; file content
// is identical to what is written to stdout.
func ConfigurePersistentLogging(logFileName string) error {
	logrus.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	logrus.Info("File logging initialized")
	return nil
}

// CountdownToGenesis blocks, printing a countdown every second until
// genesisTime is reached.
func CountdownToGenesis(genesisTime time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		remaining := genesisTime.Sub(roughtime.Now())
		if remaining <= 0 {
			fmt.Println("genesis time reached")
			return
		}
		fmt.Printf("%s until genesis\n", remaining.Round(time.Second))
		<-ticker.C
	}
}
