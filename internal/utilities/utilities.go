package utilities

import (
	"log"
	"os"
	"time"
)

// CreateLog appends a line to a per-day capture file under logs/. Used to
// keep the raw hex of every inbound frame for protocol debugging.
func CreateLog(prefix, message string) {
	filename := "logs/" + prefix + "_" + time.Now().Format("20060102") + ".log"

	if _, err := os.Stat("logs"); os.IsNotExist(err) {
		_ = os.Mkdir("logs", 0755)
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Println("error creating capture file:", err)
		return
	}
	defer f.Close()

	line := time.Now().Format("15:04:05") + " - " + message + "\n"
	if _, err := f.WriteString(line); err != nil {
		log.Println("error writing capture file:", err)
	}
}
