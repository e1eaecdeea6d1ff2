// Package main 是应用程序的入口点。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/handler"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/middleware"
	"auto-arxiv-go/internal/pipeline"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/internal/service"
	"auto-arxiv-go/internal/taxonomy"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/database"
	"auto-arxiv-go/pkg/embedding"
	"auto-arxiv-go/pkg/llm"
	"auto-arxiv-go/pkg/log"
	"auto-arxiv-go/pkg/parser"
	"auto-arxiv-go/pkg/rerank"
	"auto-arxiv-go/pkg/websearch"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、动态配置和向量索引
	database.InitSQLite(cfg.Database.Path)
	settings := config.NewSettingsManager(cfg.Storage.SettingsOverride)

	vectorIndex, err := index.Load(cfg.Storage.IndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		// 维度不匹配或文件损坏时必须人工介入，继续运行会写坏索引
		log.Fatal("向量索引加载失败", err)
	}
	log.Infof("向量索引加载成功, %d 条向量", vectorIndex.Count())

	// 4. 初始化 Repository
	metadataRepo := repository.NewMetadataRepository(database.DB)

	// 5. 初始化外部服务客户端
	llmClient := llm.NewClient(cfg.LLM)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	rerankClient := rerank.NewClient(cfg.Rerank)
	arxivClient := arxiv.NewClient(cfg.Arxiv)
	searchClient := websearch.NewClient(cfg.WebSearch)
	parserClient := parser.NewClient(cfg.Parser)

	// 6. 初始化智能体和入库管道
	classifier := agent.NewClassifier(llmClient)
	summarizer := agent.NewSummarizer(llmClient)
	queryAgent := agent.NewQueryAgent(llmClient)
	processor := pipeline.NewProcessor(
		cfg.Storage,
		settings,
		arxivClient,
		parserClient,
		embeddingClient,
		rerankClient,
		classifier,
		summarizer,
		metadataRepo,
		vectorIndex,
	)

	// 启动前校验索引与元数据对齐，部分写入必须人工介入
	if err := processor.CheckAlignment(); err != nil {
		log.Fatal("启动校验失败", err)
	}

	// 7. 初始化 Service (依赖注入)
	consolidator := taxonomy.NewConsolidator(metadataRepo, embeddingClient, classifier)
	merger := taxonomy.NewMerger(metadataRepo)
	preferenceService := service.NewPreferenceService(cfg.Storage, metadataRepo)
	taxonomyService := service.NewTaxonomyService(settings, consolidator, merger, preferenceService)
	dailyService := service.NewDailyService(
		cfg.Storage, cfg.Daily, settings,
		arxivClient, queryAgent, processor, metadataRepo,
		consolidator, merger, preferenceService,
	)
	queryService := service.NewQueryService(
		settings, metadataRepo, vectorIndex,
		embeddingClient, rerankClient, searchClient, arxivClient,
		queryAgent, processor,
	)

	// 8. 注册每日工作流定时任务
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Daily.CronSpec, func() {
		if _, err := dailyService.RunDaily(context.Background()); err != nil {
			log.Error("定时每日工作流执行失败", err)
		}
	}); err != nil {
		log.Fatal("注册定时任务失败", err)
	}
	scheduler.Start()

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		workflows := apiV1.Group("/workflows")
		{
			wh := handler.NewWorkflowHandler(dailyService)
			workflows.POST("/daily", wh.RunDaily)
			workflows.POST("/category-collection", wh.RunCategoryCollection)
		}

		taxonomyGroup := apiV1.Group("/taxonomy")
		{
			th := handler.NewTaxonomyHandler(taxonomyService)
			taxonomyGroup.GET("/merge-proposals", th.ProposeMerges)
			taxonomyGroup.POST("/merge-proposals/apply", th.ApplyMerges)
		}

		ph := handler.NewPreferenceHandler(preferenceService)
		apiV1.GET("/categories", ph.GetCategories)
		apiV1.GET("/preferences", ph.GetPreferences)
		apiV1.PUT("/preferences", ph.UpdatePreferences)

		sh := handler.NewSettingsHandler(settings)
		apiV1.GET("/settings", sh.GetSettings)
		apiV1.PUT("/settings", sh.UpdateSettings)

		papers := apiV1.Group("/papers")
		{
			paperHandler := handler.NewPaperHandler(metadataRepo)
			papers.GET("", paperHandler.ListRecent)
			papers.GET("/:arxivId", paperHandler.GetPaper)
			papers.GET("/:arxivId/pdf", paperHandler.DownloadPDF)
		}

		reports := apiV1.Group("/reports")
		{
			wh := handler.NewWorkflowHandler(dailyService)
			reports.GET("", wh.ListReports)
			reports.GET("/:name", wh.GetReport)
		}
	}

	// 问答 WebSocket
	r.GET("/ws/query", handler.NewQueryHandler(queryService).Handle)

	// 11. 启动 HTTP 服务并等待退出信号
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Infof("服务启动, 监听端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("服务启动失败", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号, 开始优雅停机")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务停机失败", err)
	}

	// 退出前持久化向量索引
	if err := vectorIndex.Save(cfg.Storage.IndexPath); err != nil {
		log.Error("向量索引持久化失败", err)
	} else {
		log.Info("向量索引已持久化")
	}
	log.Info("服务已退出")
}
