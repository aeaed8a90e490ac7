package detection

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/daimoniac/swarmshield/internal/types"
)

// DefaultPopularPackages are the names typosquats are measured against.
var DefaultPopularPackages = []string{
	"lodash", "express", "react", "axios", "moment", "underscore",
	"jquery", "async", "request", "chalk", "commander", "debug",
	"uuid", "dotenv", "webpack", "babel", "typescript", "eslint",
	"prettier", "jest", "mocha", "chai", "sinon", "nodemon",
	"mongoose", "sequelize", "passport", "socket.io", "redis", "pg",
}

// DefaultKnownPackages are established packages whose names decorate a
// popular name the way typosquats do. They are never reported, but a
// further decoration of them still is.
var DefaultKnownPackages = []string{
	"axios-retry", "babel-core", "babel-jest", "babel-loader",
	"chai-as-promised", "dotenv-expand", "eslint-config-prettier",
	"eslint-plugin-import", "eslint-plugin-react", "express-rate-limit",
	"express-session", "express-validator", "jest-environment-jsdom",
	"moment-timezone", "passport-jwt", "passport-local", "react-dom",
	"react-redux", "react-router", "react-router-dom", "react-scripts",
	"sinon-chai", "socket.io-client", "ts-jest", "typescript-eslint",
	"webpack-cli", "webpack-dev-server",
}

const variantConfidence = 0.9

// maxDistance is 1 for short popular names, where two edits would match
// too many unrelated packages.
func maxDistance(popular string) int {
	if len(popular) <= 4 {
		return 1
	}
	return 2
}

// checkTyposquat returns the strongest match against the popular set.
// Ties keep the alphabetically first popular name.
func (e *Engine) checkTyposquat(name string) (types.RiskIndicator, bool) {
	lower := strings.ToLower(name)
	if lower == "" {
		return types.RiskIndicator{}, false
	}
	if _, ok := e.popularSet[lower]; ok {
		return types.RiskIndicator{}, false
	}
	if _, ok := e.knownSet[lower]; ok {
		return types.RiskIndicator{}, false
	}

	var best types.RiskIndicator
	found := false

	for _, popular := range e.popular {
		var confidence float64
		var description string

		if d := levenshtein.ComputeDistance(lower, popular); d > 0 && d <= maxDistance(popular) {
			confidence = 0.9 / float64(d)
			description = fmt.Sprintf("Similar to '%s' (edit distance %d)", popular, d)
		}
		if variantConfidence > confidence && isVariant(lower, popular) {
			confidence = variantConfidence
			description = fmt.Sprintf("Pattern match with '%s' variant", popular)
		}

		if confidence > 0 && (!found || confidence > best.Confidence) {
			best = types.RiskIndicator{
				Type:        TypeTyposquat,
				Description: description,
				Confidence:  confidence,
				Evidence:    EvidenceHash(name),
			}
			found = true
		}
	}

	return best, found
}

// isVariant matches the common decorations of a popular name: p-x, x-p,
// x-p-y, node-p, p-node, ps, pjs and plib.
func isVariant(name, popular string) bool {
	switch name {
	case popular + "s", popular + "js", popular + "lib", "node-" + popular, popular + "-node":
		return true
	}
	return strings.HasPrefix(name, popular+"-") ||
		strings.HasSuffix(name, "-"+popular) ||
		strings.Contains(name, "-"+popular+"-")
}
