package schema

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// surveyABIJSON is the survey contract's event interface. Argument order
// and types fix each topic0; the handlers read "id" and "respondent".
const surveyABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "id", "type": "string"}
    ],
    "name": "SurveyCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "respondent", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "id", "type": "string"}
    ],
    "name": "SurveyStarted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "respondent", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "id", "type": "string"}
    ],
    "name": "SurveyCompleted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "id", "type": "string"}
    ],
    "name": "SurveyClosed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "bytes32", "name": "uid", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "respondent", "type": "address"}
    ],
    "name": "AttestationSubmitted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "TransferSuccessful",
    "type": "event"
  }
]`

var (
	surveyABI     abi.ABI
	surveyABIOnce sync.Once
	surveyABIErr  error
)

// SurveyABI returns the parsed built-in survey contract ABI.
func SurveyABI() (abi.ABI, error) {
	surveyABIOnce.Do(func() {
		surveyABI, surveyABIErr = abi.JSON(strings.NewReader(surveyABIJSON))
	})
	return surveyABI, surveyABIErr
}

// Load reads a JSON ABI from path. An empty path selects the built-in ABI.
func Load(path string) (abi.ABI, error) {
	if path == "" {
		return SurveyABI()
	}

	file, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi: %w", err)
	}
	defer file.Close()

	parsed, err := abi.JSON(file)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	if len(parsed.Events) == 0 {
		return abi.ABI{}, fmt.Errorf("abi %s declares no events", path)
	}
	return parsed, nil
}
