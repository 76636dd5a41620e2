// Command kbchat is a terminal client for the knowledge-base chat
// core: it reads questions from stdin and streams answers, progress
// notes and citations back.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/vectorstores/pgvector"

	"github.com/ragforge/kbchat/analysis"
	"github.com/ragforge/kbchat/chat"
	"github.com/ragforge/kbchat/config"
	"github.com/ragforge/kbchat/llm"
	"github.com/ragforge/kbchat/log"
	"github.com/ragforge/kbchat/rag"
	"github.com/ragforge/kbchat/store"
	memstore "github.com/ragforge/kbchat/store/memory"
	pgstore "github.com/ragforge/kbchat/store/postgres"
	redisstore "github.com/ragforge/kbchat/store/redis"
	sqlitestore "github.com/ragforge/kbchat/store/sqlite"

	openaiapi "github.com/sashabaranov/go-openai"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	citationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func main() {
	logger := log.GetDefaultLogger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	client := newLLMClient(cfg)
	history, err := newHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}

	retriever, err := newRetriever(ctx, cfg)
	if err != nil {
		logger.Warn("retrieval disabled: %v", err)
		retriever = emptyRetriever{}
	}

	instructions := memstore.NewStore()
	graph := &chat.Graph{
		Client:       client,
		Retriever:    retriever,
		History:      history,
		Instructions: instructions,
		Filter:       rag.NewRelevanceFilter(client, logger),
		Analyzer:     analysis.NewAnalyzer(client, logger),
		Logger:       logger,
	}

	session := chat.NewSession(graph, history, logger)
	repl(ctx, session, cfg)
}

func repl(ctx context.Context, session *chat.Session, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""

	for {
		fmt.Print(promptStyle.Render("you> ") + " ")
		if !scanner.Scan() {
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "/quit" || question == "/exit" {
			return
		}

		events, err := session.StreamResponse(ctx, chat.Request{
			Question:      question,
			SessionID:     sessionID,
			UsingMemory:   true,
			AnalyzeTables: cfg.AnalyzeTables,
			Language:      cfg.Language,
		})
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}

		for ev := range events {
			switch ev.Type {
			case chat.EventMsg:
				fmt.Print(ev.Payload["msg"])
			case chat.EventPickedSources:
				fmt.Println(progressStyle.Render(fmt.Sprintf("searching: %v", ev.Payload["picked_sources"])))
			case chat.EventSaveInstructions:
				fmt.Println(progressStyle.Render(fmt.Sprintf("%v", ev.Payload["save_instructions"])))
			case chat.EventCitation:
				if c, ok := ev.Payload["citation"].(map[string]any); ok {
					fmt.Println(citationStyle.Render(fmt.Sprintf("\n↳ %v (%v)", c["titles"], c["view_url"])))
				}
			case chat.EventError:
				fmt.Println(errorStyle.Render(fmt.Sprintf("\n%v", ev.Payload["error"])))
			case chat.EventFullResponse:
				if id, ok := ev.Payload["session_id"].(string); ok {
					sessionID = id
				}
				fmt.Println()
			}
		}
	}
}

func newLLMClient(cfg *config.Config) llm.Client {
	if cfg.OpenAIBaseURL != "" {
		apiCfg := openaiapi.DefaultConfig(cfg.OpenAIKey)
		apiCfg.BaseURL = cfg.OpenAIBaseURL
		return llm.NewOpenAIClientWithConfig(apiCfg, cfg.Model)
	}
	return llm.NewOpenAIClient(cfg.OpenAIKey, cfg.Model)
}

func newHistory(ctx context.Context, cfg *config.Config) (store.ChatHistory, error) {
	switch cfg.HistoryBackend {
	case "postgres":
		s, err := pgstore.NewStore(ctx, pgstore.Options{ConnString: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		return redisstore.NewChatHistory(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}), nil
	case "sqlite":
		return sqlitestore.NewChatHistory(sqlitestore.Options{Path: cfg.SQLitePath})
	default:
		return memstore.NewStore(), nil
	}
}

// newRetriever builds a pgvector-backed hybrid retriever; without a
// database there is nothing to search.
func newRetriever(ctx context.Context, cfg *config.Config) (chat.QueryRetriever, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	opts := []openai.Option{openai.WithToken(cfg.OpenAIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	embedLLM, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	vs, err := pgvector.New(ctx,
		pgvector.WithConnectionURL(cfg.DatabaseURL),
		pgvector.WithEmbedder(embedder),
		pgvector.WithCollectionName(cfg.CollectionName),
	)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	index := rag.NewLangChainVectorIndex(vs)
	return rag.NewHybridRetriever(index, nil, rag.HybridRetrieverOptions{
		CollectionName: cfg.CollectionName,
	}), nil
}

// emptyRetriever satisfies the graph when no vector store is
// configured; every turn answers from the model alone.
type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, []string) ([]rag.Document, error) {
	return nil, nil
}
