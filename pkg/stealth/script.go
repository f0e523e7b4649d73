package stealth

// BootstrapScript runs before any page script on every document loaded in
// the tab. It removes the usual headless tells and makes every function it
// patches report native source through Function.prototype.toString.
const BootstrapScript = `
(() => {
    'use strict';

    const patched = new WeakMap();
    const nativeToString = Function.prototype.toString;
    const markNative = (fn, name) => {
        patched.set(fn, 'function ' + name + '() { [native code] }');
        return fn;
    };

    const toString = function toString() {
        if (patched.has(this)) {
            return patched.get(this);
        }
        return nativeToString.call(this);
    };
    markNative(toString, 'toString');
    Function.prototype.toString = toString;

    // navigator.webdriver
    try {
        delete Object.getPrototypeOf(navigator).webdriver;
    } catch (e) {}
    Object.defineProperty(navigator, 'webdriver', {
        get: markNative(() => undefined, 'get webdriver'),
        configurable: true
    });

    // window.chrome
    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', {
            value: {},
            writable: true,
            enumerable: true,
            configurable: false
        });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = {
            OnInstalledReason: {
                CHROME_UPDATE: 'chrome_update',
                INSTALL: 'install',
                SHARED_MODULE_UPDATE: 'shared_module_update',
                UPDATE: 'update'
            },
            PlatformOs: {
                ANDROID: 'android',
                CROS: 'cros',
                LINUX: 'linux',
                MAC: 'mac',
                OPENBSD: 'openbsd',
                WIN: 'win'
            },
            get id() { return undefined; },
            connect: markNative(function connect() {}, 'connect'),
            sendMessage: markNative(function sendMessage() {}, 'sendMessage')
        };
    }
    if (!window.chrome.loadTimes) {
        window.chrome.loadTimes = markNative(function loadTimes() { return {}; }, 'loadTimes');
    }
    if (!window.chrome.csi) {
        window.chrome.csi = markNative(function csi() { return {}; }, 'csi');
    }
    if (!window.chrome.app) {
        window.chrome.app = { isInstalled: false };
    }

    // navigator.plugins and navigator.mimeTypes
    const pluginSpecs = [
        { name: 'Chrome PDF Plugin', description: 'Portable Document Format', filename: 'internal-pdf-viewer' },
        { name: 'Chrome PDF Viewer', description: '', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
        { name: 'Native Client', description: '', filename: 'internal-nacl-plugin' }
    ];
    const plugins = Object.create(PluginArray.prototype);
    pluginSpecs.forEach((spec, i) => {
        const plugin = Object.create(Plugin.prototype);
        Object.defineProperties(plugin, {
            name: { value: spec.name, enumerable: true },
            description: { value: spec.description, enumerable: true },
            filename: { value: spec.filename, enumerable: true },
            length: { value: 1, enumerable: true }
        });
        plugins[i] = plugin;
        plugins[spec.name] = plugin;
    });
    Object.defineProperty(plugins, 'length', { value: pluginSpecs.length });
    Object.defineProperty(plugins, 'item', { value: markNative((i) => plugins[i] || null, 'item') });
    Object.defineProperty(plugins, 'namedItem', { value: markNative((n) => plugins[n] || null, 'namedItem') });
    Object.defineProperty(plugins, 'refresh', { value: markNative(() => {}, 'refresh') });
    Object.defineProperty(navigator, 'plugins', {
        get: markNative(() => plugins, 'get plugins'),
        configurable: true
    });

    const mimeTypes = Object.create(MimeTypeArray.prototype);
    const pdf = Object.create(MimeType.prototype);
    Object.defineProperties(pdf, {
        type: { value: 'application/pdf', enumerable: true },
        description: { value: 'Portable Document Format', enumerable: true },
        suffixes: { value: 'pdf', enumerable: true },
        enabledPlugin: { value: plugins[0], enumerable: true }
    });
    mimeTypes[0] = pdf;
    mimeTypes['application/pdf'] = pdf;
    Object.defineProperty(mimeTypes, 'length', { value: 1 });
    Object.defineProperty(mimeTypes, 'item', { value: markNative((i) => mimeTypes[i] || null, 'item') });
    Object.defineProperty(mimeTypes, 'namedItem', { value: markNative((n) => mimeTypes[n] || null, 'namedItem') });
    Object.defineProperty(navigator, 'mimeTypes', {
        get: markNative(() => mimeTypes, 'get mimeTypes'),
        configurable: true
    });

    // navigator.languages
    Object.defineProperty(navigator, 'languages', {
        get: markNative(() => Object.freeze(['en-US', 'en']), 'get languages'),
        configurable: true
    });

    // Notification permission query
    if (window.Permissions && Permissions.prototype.query) {
        const originalQuery = Permissions.prototype.query;
        Permissions.prototype.query = markNative(function query(parameters) {
            if (parameters && parameters.name === 'notifications') {
                return Promise.resolve({ state: Notification.permission });
            }
            return originalQuery.call(this, parameters);
        }, 'query');
    }

    // WebGL vendor and renderer
    const webglHandler = {
        apply(target, ctx, args) {
            if (args[0] === 37445) {
                return 'Intel Inc.';
            }
            if (args[0] === 37446) {
                return 'Intel Iris OpenGL Engine';
            }
            return Reflect.apply(target, ctx, args);
        }
    };
    for (const proto of [window.WebGLRenderingContext, window.WebGL2RenderingContext]) {
        try {
            const original = proto.prototype.getParameter;
            proto.prototype.getParameter = markNative(new Proxy(original, webglHandler), 'getParameter');
        } catch (e) {}
    }

    // Hardware hints headless builds report as zero or missing
    if (!navigator.hardwareConcurrency) {
        Object.defineProperty(navigator, 'hardwareConcurrency', {
            get: markNative(() => 4, 'get hardwareConcurrency'),
            configurable: true
        });
    }
    if (!navigator.deviceMemory) {
        Object.defineProperty(navigator, 'deviceMemory', {
            get: markNative(() => 8, 'get deviceMemory'),
            configurable: true
        });
    }
})();
`
